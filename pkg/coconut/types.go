package coconut

import (
	"fmt"
	"strings"
)

// RecipeID is the opaque stable identifier of a recipe. It keys both cache namespaces.
type RecipeID string

// Nutrition is a per-portion nutrition estimate
type Nutrition struct {
	Kcal    float64 `json:"kcal"`
	Protein float64 `json:"protein"`
	Carbs   float64 `json:"carbs"`
	Fat     float64 `json:"fat"`
}

// Validate reports ErrInvalidNutrition when any value is negative.
func (n Nutrition) Validate() error {
	if n.Kcal < 0 || n.Protein < 0 || n.Carbs < 0 || n.Fat < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidNutrition, n)
	}
	return nil
}

// IsZero reports whether the record carries no information.
func (n Nutrition) IsZero() bool {
	return n == Nutrition{}
}

// Meta is the record stored in the metadata namespace.
type Meta struct {
	Nutrition Nutrition `json:"nutrition"`
}

// ImageAsset is an encoded image payload, normally a base64 data URI.
type ImageAsset string

const dataURIPrefix = "data:"

// Valid reports whether the asset is a data URI. Only valid assets are cached.
func (a ImageAsset) Valid() bool {
	return strings.HasPrefix(string(a), dataURIPrefix) && len(a) > len(dataURIPrefix)
}

// PNGDataURI wraps raw base64 PNG data into an ImageAsset.
func PNGDataURI(base64Data string) ImageAsset {
	return ImageAsset("data:image/png;base64," + base64Data)
}

// Category groups recipes in the catalogue
type Category string

const (
	CategoryBreakfast Category = "Сніданки"
	CategoryLunch     Category = "Обіди"
	CategoryDinner    Category = "Вечері"
	CategorySnack     Category = "Перекуси"
)

// Recipe is a static recipe record, optionally enriched with an image and nutrition.
type Recipe struct {
	ID           RecipeID   `json:"id"`
	Title        string     `json:"title"`
	Category     Category   `json:"category"`
	Ingredients  []string   `json:"ingredients"`
	Instructions []string   `json:"instructions"`
	Image        ImageAsset `json:"image,omitempty"`
	Nutrition    *Nutrition `json:"nutrition,omitempty"`
}

// Validate checks the fields enrichment depends on.
func (r *Recipe) Validate() error {
	if r == nil || r.ID == "" || strings.TrimSpace(r.Title) == "" {
		return ErrInvalidRecipe
	}
	return nil
}

// Complete reports whether the recipe already carries both assets.
func (r *Recipe) Complete() bool {
	return r.Image != "" && r.Nutrition != nil
}

// Clone returns a deep copy so callers cannot mutate controller state.
func (r Recipe) Clone() Recipe {
	out := r
	out.Ingredients = append([]string(nil), r.Ingredients...)
	out.Instructions = append([]string(nil), r.Instructions...)
	if r.Nutrition != nil {
		n := *r.Nutrition
		out.Nutrition = &n
	}
	return out
}

// PhotoAnalysis is the provider's assessment of a user-submitted meal photo.
type PhotoAnalysis struct {
	DishName     string  `json:"dish_name"`
	PortionGuess string  `json:"portion_guess"`
	CaloriesKcal float64 `json:"calories_kcal"`
	ProteinG     float64 `json:"protein_g"`
	CarbsG       float64 `json:"carbs_g"`
	FatG         float64 `json:"fat_g"`
	HealthScore  float64 `json:"health_score_0_10"`
	HealthLabel  string  `json:"health_label"`
	WhyShort     string  `json:"why_short"`
	Tips         string  `json:"tips"`
}
