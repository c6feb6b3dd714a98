package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Kokos14v/Ivan-Kosovych/internal/catalog"
	quotahttp "github.com/Kokos14v/Ivan-Kosovych/middleware/http"
	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

const requestIDHeader = "X-Request-ID"

// Handler serves the recipe catalogue, per-recipe enrichment and the quota banner.
// It keeps one controller per recipe id for the lifetime of the handler.
type Handler struct {
	config Config

	mu          sync.Mutex
	controllers map[coconut.RecipeID]*coconut.Controller

	escalations atomic.Int64
}

// Routes returns the chi router with every endpoint mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/recipes", h.ListRecipes)
	r.Route("/recipes/{id}", func(r chi.Router) {
		r.Get("/", h.GetRecipe)
		r.Post("/enrich", h.EnrichRecipe)
		r.Post("/reset", h.ResetRecipe)
	})
	// refused before the upload is read while the quota is exhausted
	r.With(quotahttp.Middleware(quotahttp.Config{
		Tracker: h.config.Service.Tracker(),
		OnQuotaExhausted: func(w http.ResponseWriter, r *http.Request) {
			h.handleError(w, r, coconut.ErrQuotaExhausted, http.StatusTooManyRequests)
		},
	})).Post("/analyze", h.AnalyzePhoto)

	r.Route("/quota", func(r chi.Router) {
		r.Get("/", h.GetQuota)
		r.Post("/reset", h.ResetQuota)
		r.Post("/dismiss", h.DismissQuota)
	})
	r.Post("/credentials", h.SetCredentials)
	r.Get("/stats", h.GetStats)

	if h.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.config.MetricsHandler)
	}
	return r
}

// ListRecipes returns the catalogue filtered by ?category= and ?q=
func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		category = catalog.AllCategories
	}
	query := r.URL.Query().Get("q")

	recipes := h.config.Recipes.Filter(category, query)
	views := make([]RecipeView, 0, len(recipes))
	for _, recipe := range recipes {
		views = append(views, h.view(recipe))
	}
	writeJSON(w, http.StatusOK, RecipeList{Category: category, Query: query, Recipes: views})
}

// GetRecipe returns one recipe with whatever has been enriched so far
func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, ok := h.recipe(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(recipe))
}

// EnrichRecipe is the visibility trigger. The attempt runs in the background;
// with ?wait=true the response is delayed until it settles.
func (h *Handler) EnrichRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, ok := h.recipe(w, r)
	if !ok {
		return
	}
	ctrl, err := h.controller(recipe)
	if err != nil {
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}

	// the attempt outlives the request
	ctrl.SetVisible(context.WithoutCancel(r.Context()), true)

	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, h.controllerView(ctrl))
		return
	}
	if _, err := ctrl.Wait(r.Context()); err != nil && r.Context().Err() != nil {
		return
	}
	writeJSON(w, http.StatusOK, h.controllerView(ctrl))
}

// ResetRecipe returns a failed recipe to idle
func (h *Handler) ResetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, ok := h.recipe(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	ctrl := h.controllers[recipe.ID]
	h.mu.Unlock()
	if ctrl == nil {
		h.handleError(w, r, fmt.Errorf("%w: recipe %s has not been enriched", coconut.ErrInvalidTransition, recipe.ID), http.StatusConflict)
		return
	}
	if err := ctrl.Reset(); err != nil {
		h.handleError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, h.controllerView(ctrl))
}

// AnalyzePhoto classifies the meal photo in the request body
func (h *Handler) AnalyzePhoto(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.config.MaxPhotoBytes)
	photo, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleError(w, r, fmt.Errorf("photo exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		h.handleError(w, r, fmt.Errorf("read photo: %w", err), http.StatusBadRequest)
		return
	}

	analysis, err := h.config.Service.AnalyzeMealPhoto(r.Context(), photo)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, analysis)
	case errors.Is(err, coconut.ErrInvalidImage):
		h.handleError(w, r, err, http.StatusBadRequest)
	case errors.Is(err, coconut.ErrQuotaExhausted):
		h.handleError(w, r, err, http.StatusTooManyRequests)
	default:
		h.handleError(w, r, err, http.StatusBadGateway)
	}
}

// GetQuota returns the banner state
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.quota(r.Context()))
}

// ResetQuota reopens the quota
func (h *Handler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	h.config.Service.ResetQuota()
	writeJSON(w, http.StatusOK, h.quota(r.Context()))
}

// DismissQuota hides the banner; the quota stays exhausted
func (h *Handler) DismissQuota(w http.ResponseWriter, r *http.Request) {
	h.config.Service.DismissBanner()
	writeJSON(w, http.StatusOK, h.quota(r.Context()))
}

// SetCredentials installs (or with an empty key, clears) the elevated credential
func (h *Handler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	if h.config.Credentials == nil {
		h.handleError(w, r, errors.New("credential switching is not enabled"), http.StatusNotFound)
		return
	}
	var req CredentialRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("decode body: %w", err), http.StatusBadRequest)
		return
	}
	h.config.Credentials.SetCredential(req.Key)
	writeJSON(w, http.StatusOK, h.quota(r.Context()))
}

// GetStats reports scheduler and cache counters
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	s := h.config.Service.Scheduler().Stats()
	c := h.config.Service.Cache().Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		Scheduler: SchedulerStats(s),
		Cache:     CacheStats(c),
	})
}

func (h *Handler) quota(ctx context.Context) QuotaResponse {
	banner := h.config.Service.QuotaBanner()
	resp := QuotaResponse{
		Exhausted:   banner.Exhausted,
		Dismissed:   banner.Dismissed,
		Visible:     banner.Visible(),
		Escalations: h.escalations.Load(),
	}
	if h.config.Credentials != nil {
		resp.Elevated = h.config.Credentials.Elevated(ctx)
	}
	return resp
}

func (h *Handler) recipe(w http.ResponseWriter, r *http.Request) (coconut.Recipe, bool) {
	id := coconut.RecipeID(chi.URLParam(r, "id"))
	recipe, ok := h.config.Recipes.Get(id)
	if !ok {
		h.handleError(w, r, fmt.Errorf("recipe %q not found", id), http.StatusNotFound)
		return coconut.Recipe{}, false
	}
	return recipe, true
}

// controller returns the controller for recipe, creating it on first use.
func (h *Handler) controller(recipe coconut.Recipe) (*coconut.Controller, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ctrl, ok := h.controllers[recipe.ID]; ok {
		return ctrl, nil
	}
	ctrl, err := h.config.Service.NewController(recipe, h.onQuotaError)
	if err != nil {
		return nil, err
	}
	h.controllers[recipe.ID] = ctrl
	return ctrl, nil
}

func (h *Handler) onQuotaError(id coconut.RecipeID) {
	h.escalations.Add(1)
	h.config.Logger.Warn("enrichment hit the AI quota", coconut.Field{Key: "recipe_id", Value: string(id)})
}

func (h *Handler) view(recipe coconut.Recipe) RecipeView {
	h.mu.Lock()
	ctrl := h.controllers[recipe.ID]
	h.mu.Unlock()
	if ctrl == nil {
		return RecipeView{Recipe: recipe, Status: coconut.StatusIdle}
	}
	return h.controllerView(ctrl)
}

func (h *Handler) controllerView(ctrl *coconut.Controller) RecipeView {
	v := RecipeView{
		Recipe:       ctrl.Recipe(),
		Status:       ctrl.Status(),
		QuotaLimited: ctrl.QuotaLimited(),
	}
	if err := ctrl.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// requestID tags every request and response with an X-Request-ID, keeping a
// caller-supplied one.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.config.Logger.Debug("http request",
			coconut.Field{Key: "request_id", Value: r.Header.Get(requestIDHeader)},
			coconut.Field{Key: "method", Value: r.Method},
			coconut.Field{Key: "path", Value: r.URL.Path},
			coconut.Field{Key: "status", Value: ww.Status()},
			coconut.Field{Key: "duration", Value: time.Since(start).String()},
		)
	})
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, map[string]string{
		"error":      err.Error(),
		"request_id": r.Header.Get(requestIDHeader),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// response already started; nothing useful to do with an encoding error
	_ = json.NewEncoder(w).Encode(body)
}
