// Package http provides HTTP middleware that gates AI-backed routes on the
// shared quota state
package http

import (
	"net/http"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// Config holds middleware configuration
type Config struct {
	// Tracker is the quota tracker consulted on every request.
	// Default: the process-wide tracker
	Tracker *coconut.QuotaTracker

	// Skip lets a request through regardless of quota state (optional)
	Skip func(r *http.Request) bool

	// OnQuotaExhausted is called when a request is refused
	// If nil, returns 429 Too Many Requests
	OnQuotaExhausted func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that refuses requests while the AI
// quota is exhausted. The request body is not read, so large uploads are
// turned away before they are buffered.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Tracker == nil {
		config.Tracker = coconut.DefaultQuotaTracker()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skip != nil && config.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			if !config.Tracker.Exhausted() {
				next.ServeHTTP(w, r)
				return
			}
			if config.OnQuotaExhausted != nil {
				config.OnQuotaExhausted(w, r)
				return
			}
			http.Error(w, coconut.ErrQuotaExhausted.Error(), http.StatusTooManyRequests)
		})
	}
}

// HandlerFunc creates the middleware for a HandlerFunc
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// SkipMethods returns a Skip func that lets the given methods through
func SkipMethods(methods ...string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Method]
		return ok
	}
}
