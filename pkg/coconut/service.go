package coconut

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Service owns the shared admission and caching machinery: the asset cache,
// the quota tracker, the request scheduler and the guarded gateway.
// Controllers created from one Service share a single backpressure point.
type Service struct {
	cache     *AssetCache
	tracker   *QuotaTracker
	scheduler *Scheduler
	gateway   Gateway
	config    Config
	logger    Logger
	metrics   Metrics

	// inflight collapses concurrent enrichment attempts for the same recipe id
	inflight singleflight.Group

	bannerDismissed atomic.Bool
}

// NewService creates a Service over storage and gateway.
func NewService(storage Storage, gateway Gateway, config Config) (*Service, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	if config.CircuitBreaker.Enabled {
		metrics := config.Metrics
		logger := config.Logger
		cb := NewDefaultCircuitBreaker(config.CircuitBreaker.FailureThreshold, config.CircuitBreaker.ResetTimeout,
			func(state CircuitBreakerState) {
				metrics.RecordCircuitBreakerStateChange(string(state))
				logger.Warn("storage circuit breaker changed state", Field{Key: "state", Value: string(state)})
			})
		storage = NewCircuitBreakerStorage(storage, cb)
	}

	var hot *LRUCache
	if !config.Cache.Disabled {
		hot = NewLRUCache(config.Cache.MaxImages, config.Cache.MaxMeta)
	}
	cache, err := NewAssetCache(storage,
		WithHotTier(hot),
		WithCacheLogger(config.Logger),
		WithCacheMetrics(config.Metrics),
	)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cache:   cache,
		tracker: config.Tracker,
		scheduler: NewScheduler(config.Tier,
			WithPolicies(config.Elevated, config.Standard),
			WithSchedulerLogger(config.Logger),
			WithSchedulerMetrics(config.Metrics),
		),
		gateway: NewGuardedGateway(gateway, config.Tracker, config.Logger, config.Metrics),
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
	}

	s.tracker.OnChange(func(exhausted bool) {
		s.metrics.RecordQuotaState(exhausted)
		if exhausted {
			// a new escalation shows the banner again
			s.bannerDismissed.Store(false)
			s.logger.Warn("AI quota marked exhausted; new AI calls are gated")
		} else {
			s.logger.Info("AI quota reset")
		}
	})

	return s, nil
}

// Close stops the scheduler. Pending work fails with ErrSchedulerClosed.
func (s *Service) Close() error {
	return s.scheduler.Close()
}

// Cache returns the asset cache.
func (s *Service) Cache() *AssetCache { return s.cache }

// Tracker returns the quota tracker.
func (s *Service) Tracker() *QuotaTracker { return s.tracker }

// Scheduler returns the request scheduler.
func (s *Service) Scheduler() *Scheduler { return s.scheduler }

// Banner is the quota banner shown by the host.
type Banner struct {
	Exhausted bool `json:"exhausted"`
	Dismissed bool `json:"dismissed"`
}

// Visible reports whether the host should render the banner.
func (b Banner) Visible() bool { return b.Exhausted && !b.Dismissed }

// QuotaBanner returns the current banner state.
func (s *Service) QuotaBanner() Banner {
	return Banner{
		Exhausted: s.tracker.Exhausted(),
		Dismissed: s.bannerDismissed.Load(),
	}
}

// DismissBanner hides the banner without reopening the quota.
func (s *Service) DismissBanner() {
	s.bannerDismissed.Store(true)
}

// ResetQuota reopens the quota. This is the only way back from exhaustion.
func (s *Service) ResetQuota() {
	s.bannerDismissed.Store(false)
	s.tracker.Reset()
}

// AnalyzeMealPhoto classifies a meal photo. It refuses without contacting the
// provider while the quota is exhausted.
func (s *Service) AnalyzeMealPhoto(ctx context.Context, image []byte) (*PhotoAnalysis, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty photo", ErrInvalidImage)
	}
	if s.tracker.Exhausted() {
		return nil, ErrQuotaExhausted
	}
	analysis, err := s.gateway.AnalyzeMealPhoto(ctx, image)
	if err != nil {
		if s.isQuotaFailure(err) {
			return nil, fmt.Errorf("%w: %w", ErrQuotaExhausted, err)
		}
		return nil, fmt.Errorf("analyze meal photo: %w", err)
	}
	return analysis, nil
}

// enrichment is what one scheduled unit obtained for a recipe.
type enrichment struct {
	image     ImageAsset
	nutrition *Nutrition
	// started is false when the unit was dropped before leaving the queue
	started bool
}

// enrich runs one scheduled enrichment unit for recipe, sharing it with any
// concurrent caller for the same id. onStart runs when the unit leaves the queue.
//
// The id stays in flight until the unit has finished, whatever happens to the
// callers: a caller whose ctx ends stops waiting, the unit does not. A joined
// caller whose leader was dropped from the queue tries again under its own ctx.
func (s *Service) enrich(ctx context.Context, recipe Recipe, onStart func()) (*enrichment, error, bool) {
	for {
		ch := s.inflight.DoChan(string(recipe.ID), func() (interface{}, error) {
			res := &enrichment{}
			h := s.scheduler.Enqueue(ctx, func(ctx context.Context) error {
				res.started = true
				if onStart != nil {
					onStart()
				}
				return s.runUnit(ctx, recipe, res)
			})
			<-h.Done()
			return res, h.Err()
		})

		select {
		case r := <-ch:
			res, _ := r.Val.(*enrichment)
			if res != nil && !res.started && isContextError(r.Err) && ctx.Err() == nil {
				// dropped because another caller's ctx ended
				continue
			}
			return res, r.Err, r.Shared
		case <-ctx.Done():
			return nil, ctx.Err(), false
		}
	}
}

// runUnit requests exactly the assets recipe is missing. A quota-class failure
// aborts the unit; a transient failure of one asset does not stop the other.
func (s *Service) runUnit(ctx context.Context, recipe Recipe, res *enrichment) error {
	var errs []error

	if recipe.Image == "" {
		if img, ok := s.cache.GetImage(ctx, recipe.ID); ok {
			res.image = img
		} else {
			img, err := s.gateway.GenerateImage(ctx, recipe.Title)
			switch {
			case err == nil:
				res.image = img
				s.cache.SaveImage(ctx, recipe.ID, img)
			case s.isQuotaFailure(err):
				return fmt.Errorf("%w: generate image: %w", ErrQuotaExhausted, err)
			default:
				errs = append(errs, fmt.Errorf("generate image: %w", err))
			}
		}
	}

	if recipe.Nutrition == nil {
		if meta, ok := s.cache.GetMeta(ctx, recipe.ID); ok {
			n := meta.Nutrition
			res.nutrition = &n
		} else {
			n, err := s.gateway.EstimateNutrition(ctx, recipe.Title, recipe.Ingredients)
			switch {
			case err == nil:
				res.nutrition = &n
				s.cache.SaveMeta(ctx, recipe.ID, &Meta{Nutrition: n})
			case s.isQuotaFailure(err):
				return fmt.Errorf("%w: estimate nutrition: %w", ErrQuotaExhausted, err)
			default:
				errs = append(errs, fmt.Errorf("estimate nutrition: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) isQuotaFailure(err error) bool {
	return errors.Is(err, ErrQuotaExhausted) || s.tracker.Classify(err)
}
