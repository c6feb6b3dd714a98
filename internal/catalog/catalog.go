// Package catalog holds the static recipe catalogue shipped with the binary.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// AllCategories is the filter value that matches every category.
const AllCategories = "Всі"

//go:embed recipes.json
var recipesJSON []byte

// Catalog is an immutable, ordered set of recipes.
type Catalog struct {
	recipes []coconut.Recipe
	byID    map[coconut.RecipeID]int
}

// Default parses the embedded catalogue.
func Default() (*Catalog, error) {
	return Parse(recipesJSON)
}

// Parse builds a catalogue from a JSON array of recipes.
func Parse(data []byte) (*Catalog, error) {
	var recipes []coconut.Recipe
	if err := json.Unmarshal(data, &recipes); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	return New(recipes)
}

// New validates recipes and indexes them by id.
func New(recipes []coconut.Recipe) (*Catalog, error) {
	c := &Catalog{
		recipes: make([]coconut.Recipe, 0, len(recipes)),
		byID:    make(map[coconut.RecipeID]int, len(recipes)),
	}
	for i := range recipes {
		r := recipes[i]
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("recipe %d: %w", i, err)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate recipe id %q", r.ID)
		}
		c.byID[r.ID] = len(c.recipes)
		c.recipes = append(c.recipes, r.Clone())
	}
	return c, nil
}

// Len returns the number of recipes.
func (c *Catalog) Len() int { return len(c.recipes) }

// All returns copies of every recipe in catalogue order.
func (c *Catalog) All() []coconut.Recipe {
	return c.Filter(AllCategories, "")
}

// Get returns a copy of the recipe with id.
func (c *Catalog) Get(id coconut.RecipeID) (coconut.Recipe, bool) {
	i, ok := c.byID[id]
	if !ok {
		return coconut.Recipe{}, false
	}
	return c.recipes[i].Clone(), true
}

// Filter returns recipes in category whose title contains query, ignoring
// case. An empty category or AllCategories matches every category.
func (c *Catalog) Filter(category, query string) []coconut.Recipe {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]coconut.Recipe, 0, len(c.recipes))
	for _, r := range c.recipes {
		if category != "" && category != AllCategories && string(r.Category) != category {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(r.Title), query) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// Categories lists the catalogue categories in display order.
func Categories() []coconut.Category {
	return []coconut.Category{
		coconut.CategoryBreakfast,
		coconut.CategoryLunch,
		coconut.CategoryDinner,
		coconut.CategorySnack,
	}
}
