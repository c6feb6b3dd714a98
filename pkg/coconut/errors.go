package coconut

import "errors"

var (
	// ErrQuotaExhausted is returned when the AI provider quota is known to be exhausted.
	// Its message deliberately contains "quota" so IsQuotaError recognises it.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrSchedulerClosed is returned for work that can no longer run because the scheduler stopped
	ErrSchedulerClosed = errors.New("scheduler closed")

	// ErrInvalidTransition is returned when a controller is asked for a transition
	// its state table does not allow
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidNutrition is returned for nutrition records with negative values
	ErrInvalidNutrition = errors.New("invalid nutrition record")

	// ErrInvalidImage is returned for image payloads that are not data URIs
	ErrInvalidImage = errors.New("invalid image asset")

	// ErrNoImageData is returned when the provider answered without an image part
	ErrNoImageData = errors.New("no image data")

	// ErrNotFound is returned by storage backends for missing entries
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidRecipe is returned for recipes without an id or title
	ErrInvalidRecipe = errors.New("invalid recipe")
)
