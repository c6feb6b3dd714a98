package coconut

import (
	"context"
	"time"
)

// Gateway is the call surface of the external AI provider.
// Implementations must propagate the provider's status and message in their
// errors so quota exhaustion can be recognised.
type Gateway interface {
	// EstimateNutrition estimates per-portion nutrition for a recipe.
	EstimateNutrition(ctx context.Context, title string, ingredients []string) (Nutrition, error)

	// GenerateImage produces a photograph of the dish as an ImageAsset.
	GenerateImage(ctx context.Context, title string) (ImageAsset, error)

	// AnalyzeMealPhoto classifies a user-submitted meal photo.
	AnalyzeMealPhoto(ctx context.Context, image []byte) (*PhotoAnalysis, error)
}

// Gateway operation names used in logs and metrics.
const (
	OpEstimateNutrition = "estimate_nutrition"
	OpGenerateImage     = "generate_image"
	OpAnalyzeMealPhoto  = "analyze_meal_photo"
)

// GuardedGateway refuses provider calls while the quota is exhausted and
// classifies every failure against the tracker.
type GuardedGateway struct {
	next    Gateway
	tracker *QuotaTracker
	logger  Logger
	metrics Metrics
}

// NewGuardedGateway wraps next. A nil tracker means the process-wide tracker.
func NewGuardedGateway(next Gateway, tracker *QuotaTracker, logger Logger, metrics Metrics) *GuardedGateway {
	if tracker == nil {
		tracker = DefaultQuotaTracker()
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &GuardedGateway{next: next, tracker: tracker, logger: logger, metrics: metrics}
}

func (g *GuardedGateway) EstimateNutrition(ctx context.Context, title string, ingredients []string) (Nutrition, error) {
	var out Nutrition
	err := g.call(OpEstimateNutrition, func() error {
		var e error
		out, e = g.next.EstimateNutrition(ctx, title, ingredients)
		if e == nil {
			e = out.Validate()
		}
		return e
	})
	if err != nil {
		return Nutrition{}, err
	}
	return out, nil
}

func (g *GuardedGateway) GenerateImage(ctx context.Context, title string) (ImageAsset, error) {
	var out ImageAsset
	err := g.call(OpGenerateImage, func() error {
		var e error
		out, e = g.next.GenerateImage(ctx, title)
		if e == nil && !out.Valid() {
			e = ErrInvalidImage
		}
		return e
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (g *GuardedGateway) AnalyzeMealPhoto(ctx context.Context, image []byte) (*PhotoAnalysis, error) {
	var out *PhotoAnalysis
	err := g.call(OpAnalyzeMealPhoto, func() error {
		var e error
		out, e = g.next.AnalyzeMealPhoto(ctx, image)
		return e
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GuardedGateway) call(op string, fn func() error) error {
	if g.tracker.Exhausted() {
		g.metrics.RecordGatewayCall(op, "refused", 0)
		return ErrQuotaExhausted
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	switch {
	case err == nil:
		g.metrics.RecordGatewayCall(op, "ok", elapsed)
	case g.tracker.Classify(err):
		g.metrics.RecordGatewayCall(op, "quota", elapsed)
		g.logger.Warn("AI provider quota exhausted",
			Field{Key: "operation", Value: op}, errField(err))
	default:
		g.metrics.RecordGatewayCall(op, "error", elapsed)
		g.logger.Error("AI provider call failed",
			Field{Key: "operation", Value: op}, errField(err))
	}
	return err
}
