package coconut_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
	"github.com/Kokos14v/Ivan-Kosovych/storage/memory"
)

const testImage = coconut.ImageAsset("data:image/png;base64,iVBORw0KGgo=")

var borschtNutrition = coconut.Nutrition{Kcal: 320, Protein: 8, Carbs: 40, Fat: 12}

// fakeGateway counts calls and returns canned answers.
type fakeGateway struct {
	image     coconut.ImageAsset
	nutrition coconut.Nutrition
	analysis  *coconut.PhotoAnalysis

	mu           sync.Mutex
	imageErr     error
	nutritionErr error
	photoErr     error
	delay        time.Duration

	imageCalls     atomic.Int32
	nutritionCalls atomic.Int32
	photoCalls     atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		image:     testImage,
		nutrition: borschtNutrition,
		analysis:  &coconut.PhotoAnalysis{DishName: "Борщ", CaloriesKcal: 320, HealthScore: 7},
	}
}

func (g *fakeGateway) setErrors(imageErr, nutritionErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.imageErr = imageErr
	g.nutritionErr = nutritionErr
}

func (g *fakeGateway) wait() {
	g.mu.Lock()
	d := g.delay
	g.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (g *fakeGateway) EstimateNutrition(ctx context.Context, title string, ingredients []string) (coconut.Nutrition, error) {
	g.nutritionCalls.Add(1)
	g.wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nutritionErr != nil {
		return coconut.Nutrition{}, g.nutritionErr
	}
	return g.nutrition, nil
}

func (g *fakeGateway) GenerateImage(ctx context.Context, title string) (coconut.ImageAsset, error) {
	g.imageCalls.Add(1)
	g.wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.imageErr != nil {
		return "", g.imageErr
	}
	return g.image, nil
}

func (g *fakeGateway) AnalyzeMealPhoto(ctx context.Context, image []byte) (*coconut.PhotoAnalysis, error) {
	g.photoCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.photoErr != nil {
		return nil, g.photoErr
	}
	return g.analysis, nil
}

func (g *fakeGateway) calls() int {
	return int(g.imageCalls.Load() + g.nutritionCalls.Load() + g.photoCalls.Load())
}

// countingStorage counts successful writes per namespace.
type countingStorage struct {
	coconut.Storage
	imageWrites atomic.Int32
	metaWrites  atomic.Int32
}

func (s *countingStorage) SaveImage(ctx context.Context, id coconut.RecipeID, asset coconut.ImageAsset) (bool, error) {
	written, err := s.Storage.SaveImage(ctx, id, asset)
	if written {
		s.imageWrites.Add(1)
	}
	return written, err
}

func (s *countingStorage) SaveMeta(ctx context.Context, id coconut.RecipeID, meta *coconut.Meta) (bool, error) {
	written, err := s.Storage.SaveMeta(ctx, id, meta)
	if written {
		s.metaWrites.Add(1)
	}
	return written, err
}

var errStoreDown = errors.New("store unavailable")

// brokenStorage fails every call.
type brokenStorage struct{}

func (brokenStorage) GetImage(context.Context, coconut.RecipeID) (coconut.ImageAsset, error) {
	return "", errStoreDown
}

func (brokenStorage) SaveImage(context.Context, coconut.RecipeID, coconut.ImageAsset) (bool, error) {
	return false, errStoreDown
}

func (brokenStorage) GetMeta(context.Context, coconut.RecipeID) (*coconut.Meta, error) {
	return nil, errStoreDown
}

func (brokenStorage) SaveMeta(context.Context, coconut.RecipeID, *coconut.Meta) (bool, error) {
	return false, errStoreDown
}

func testConfig(elevated bool) coconut.Config {
	return coconut.Config{
		Tier:     coconut.StaticTier(elevated),
		Elevated: coconut.Policy{Ceiling: 3, Delay: time.Millisecond},
		Standard: coconut.Policy{Ceiling: 1, Delay: 5 * time.Millisecond},
		Tracker:  coconut.NewQuotaTracker(),
	}
}

func newTestService(t *testing.T, storage coconut.Storage, gateway coconut.Gateway, config coconut.Config) *coconut.Service {
	t.Helper()
	if storage == nil {
		storage = memory.New()
	}
	svc, err := coconut.NewService(storage, gateway, config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func borscht() coconut.Recipe {
	return coconut.Recipe{
		ID:          "borscht",
		Title:       "Борщ",
		Category:    coconut.CategoryLunch,
		Ingredients: []string{"буряк", "капуста", "картопля", "морква"},
	}
}

func recipe(id string) coconut.Recipe {
	return coconut.Recipe{ID: coconut.RecipeID(id), Title: "Recipe " + id}
}
