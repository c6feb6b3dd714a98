package api

import "github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"

// RecipeView is a recipe with its enrichment state
type RecipeView struct {
	coconut.Recipe
	Status       coconut.Status `json:"status"`
	Error        string         `json:"error,omitempty"`
	QuotaLimited bool           `json:"quota_limited,omitempty"`
}

// RecipeList is the response of GET /recipes
type RecipeList struct {
	Category string       `json:"category"`
	Query    string       `json:"query,omitempty"`
	Recipes  []RecipeView `json:"recipes"`
}

// QuotaResponse is the quota banner state
type QuotaResponse struct {
	Exhausted   bool  `json:"exhausted"`
	Dismissed   bool  `json:"dismissed"`
	Visible     bool  `json:"banner_visible"`
	Elevated    bool  `json:"elevated"`
	Escalations int64 `json:"escalations"`
}

// StatsResponse reports scheduler and in-memory cache counters
type StatsResponse struct {
	Scheduler SchedulerStats `json:"scheduler"`
	Cache     CacheStats     `json:"cache"`
}

type SchedulerStats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

type CacheStats struct {
	ImageHits   int64 `json:"image_hits"`
	ImageMisses int64 `json:"image_misses"`
	MetaHits    int64 `json:"meta_hits"`
	MetaMisses  int64 `json:"meta_misses"`
	Evictions   int64 `json:"evictions"`
	Size        int   `json:"size"`
}

// CredentialRequest is the body of POST /credentials
type CredentialRequest struct {
	Key string `json:"key"`
}
