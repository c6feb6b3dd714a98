package api

import (
	"fmt"
	"net/http"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

const defaultMaxPhotoBytes = 10 << 20

// RecipeSource is the static recipe catalogue the API serves.
type RecipeSource interface {
	Get(id coconut.RecipeID) (coconut.Recipe, bool)
	Filter(category, query string) []coconut.Recipe
}

// Config holds configuration for the recipe API handler
type Config struct {
	// Service is the enrichment service (required)
	Service *coconut.Service

	// Recipes is the recipe catalogue (required)
	Recipes RecipeSource

	// Credentials enables POST /credentials for switching to elevated access.
	// If nil, the endpoint answers 404.
	Credentials *coconut.CredentialTier

	// MetricsHandler is mounted at /metrics when set (e.g. promhttp.HandlerFor)
	MetricsHandler http.Handler

	// MaxPhotoBytes caps the meal photo upload size (default: 10 MiB)
	MaxPhotoBytes int64

	// OnError handles errors.
	// If nil, uses default JSON error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional; defaults to NoopLogger
	Logger coconut.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.Recipes == nil {
		return fmt.Errorf("recipes is required")
	}
	if c.MaxPhotoBytes < 0 {
		return fmt.Errorf("max photo bytes must not be negative")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.MaxPhotoBytes == 0 {
		config.MaxPhotoBytes = defaultMaxPhotoBytes
	}
	if config.Logger == nil {
		config.Logger = &coconut.NoopLogger{}
	}
	return &Handler{
		config:      config,
		controllers: make(map[coconut.RecipeID]*coconut.Controller),
	}, nil
}
