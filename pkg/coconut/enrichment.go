package coconut

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Status is the enrichment state of one recipe card.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusQueuing Status = "queuing"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition happens without a Reset.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// transitions lists the legal moves out of each state. queuing -> ready is
// taken by a controller that joined another controller's in-flight attempt.
var transitions = map[Status][]Status{
	StatusIdle:    {StatusQueuing, StatusReady, StatusError},
	StatusQueuing: {StatusLoading, StatusReady, StatusError},
	StatusLoading: {StatusReady, StatusError},
	StatusReady:   nil,
	StatusError:   {StatusIdle},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const updatesBuffer = 8

// Controller drives the enrichment of a single recipe.
//
// A controller is created when the recipe becomes relevant to the host (a card
// mounts) and discarded with it. It runs at most one attempt at a time; after a
// failure the host may call Reset to allow another one.
type Controller struct {
	svc          *Service
	onQuotaError func(RecipeID)

	mu      sync.Mutex
	recipe  Recipe
	status  Status
	err     error
	started bool
	visible bool
	gated   bool
	done    chan struct{}
	updates chan Status
}

// NewController creates a controller for recipe. onQuotaError, if not nil, is
// called each time an attempt of this controller ends in a quota escalation:
// its own unit started while the quota was open and hit a quota failure.
func (s *Service) NewController(recipe Recipe, onQuotaError func(RecipeID)) (*Controller, error) {
	if err := recipe.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		svc:          s,
		onQuotaError: onQuotaError,
		recipe:       recipe.Clone(),
		status:       StatusIdle,
		done:         make(chan struct{}),
		updates:      make(chan Status, updatesBuffer),
	}, nil
}

// ID returns the recipe id.
func (c *Controller) ID() RecipeID {
	return c.recipe.ID
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that moved the controller to StatusError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// QuotaGated reports whether the last attempt was refused up front because the
// quota was already exhausted.
func (c *Controller) QuotaGated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gated
}

// QuotaLimited reports whether the controller failed for quota reasons, either
// gated up front or escalated during its own attempt.
func (c *Controller) QuotaLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusError && errors.Is(c.err, ErrQuotaExhausted)
}

// Recipe returns a copy of the recipe with every asset merged so far.
func (c *Controller) Recipe() Recipe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recipe.Clone()
}

// Updates delivers state changes. A receiver that falls behind misses
// intermediate states; Status always reports the latest one.
func (c *Controller) Updates() <-chan Status {
	return c.updates
}

// Wait blocks until the controller reaches ready or error, or ctx ends.
func (c *Controller) Wait(ctx context.Context) (Status, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.status, c.err
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}
}

// SetVisible feeds the host's visibility signal. The first true starts an
// attempt in the background; later signals have no effect until Reset.
func (c *Controller) SetVisible(ctx context.Context, visible bool) {
	c.mu.Lock()
	c.visible = visible
	launch := visible && !c.started && c.status == StatusIdle
	c.mu.Unlock()

	if launch {
		go func() {
			_ = c.Enrich(ctx)
		}()
	}
}

// Visible returns the last visibility signal.
func (c *Controller) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Enrich runs one enrichment attempt and blocks until it settles, returning the
// error that ended it in StatusError. A second call while an attempt is running
// or settled is a no-op that returns nil.
func (c *Controller) Enrich(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.status != StatusIdle {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.gated = false
	recipe := c.recipe.Clone()
	c.mu.Unlock()

	svc := c.svc
	log := svc.logger

	if recipe.Complete() {
		return c.transition(StatusReady, nil)
	}

	// cached assets are merged even when the other one is missing
	if recipe.Image == "" {
		if img, ok := svc.cache.GetImage(ctx, recipe.ID); ok {
			recipe.Image = img
		}
	}
	if recipe.Nutrition == nil {
		if meta, ok := svc.cache.GetMeta(ctx, recipe.ID); ok {
			n := meta.Nutrition
			recipe.Nutrition = &n
		}
	}
	c.merge(recipe.Image, recipe.Nutrition)
	if recipe.Complete() {
		log.Debug("recipe served from cache", recipeField(recipe.ID))
		return c.transition(StatusReady, nil)
	}

	if svc.tracker.Exhausted() {
		c.mu.Lock()
		c.gated = true
		c.mu.Unlock()
		log.Debug("enrichment gated by exhausted quota", recipeField(recipe.ID))
		if err := c.transition(StatusError, ErrQuotaExhausted); err != nil {
			return err
		}
		return ErrQuotaExhausted
	}

	if err := c.transition(StatusQueuing, nil); err != nil {
		return err
	}

	// a unit that starts after the flip is refused, not escalated
	var escalating atomic.Bool
	res, err, _ := svc.enrich(ctx, recipe, func() {
		escalating.Store(!svc.tracker.Exhausted())
		if err := c.transition(StatusLoading, nil); err != nil {
			log.Warn("controller transition rejected", recipeField(recipe.ID), errField(err))
		}
	})
	if res != nil {
		c.merge(res.image, res.nutrition)
	}

	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) && escalating.Load() && c.onQuotaError != nil {
			c.onQuotaError(recipe.ID)
		}
		log.Info("enrichment failed", recipeField(recipe.ID), errField(err))
		err = fmt.Errorf("enrich %s: %w", recipe.ID, err)
		if terr := c.transition(StatusError, err); terr != nil {
			return terr
		}
		return err
	}
	return c.transition(StatusReady, nil)
}

// Reset returns a failed controller to idle so the host can retry.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.status != StatusError {
		from := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, from)
	}
	c.started = false
	c.gated = false
	c.done = make(chan struct{})
	c.mu.Unlock()

	return c.transition(StatusIdle, nil)
}

// merge fills the assets the controller does not have yet. Present values are
// never replaced.
func (c *Controller) merge(image ImageAsset, nutrition *Nutrition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recipe.Image == "" && image != "" {
		c.recipe.Image = image
	}
	if c.recipe.Nutrition == nil && nutrition != nil {
		n := *nutrition
		c.recipe.Nutrition = &n
	}
}

func (c *Controller) transition(to Status, cause error) error {
	c.mu.Lock()
	from := c.status
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.status = to
	c.err = cause
	if to.Terminal() {
		close(c.done)
	}
	c.mu.Unlock()

	select {
	case c.updates <- to:
	default:
	}
	c.svc.metrics.RecordTransition(from, to)
	c.svc.logger.Debug("enrichment state changed",
		recipeField(c.recipe.ID),
		Field{Key: "from", Value: string(from)},
		Field{Key: "to", Value: string(to)},
	)
	return nil
}
