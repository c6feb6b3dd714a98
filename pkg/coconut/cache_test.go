package coconut_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

func TestLRUCache_Image(t *testing.T) {
	cache := coconut.NewLRUCache(10, 10)

	_, found := cache.GetImage("borscht")
	assert.False(t, found)

	cache.SetImage("borscht", testImage)
	got, found := cache.GetImage("borscht")
	require.True(t, found)
	assert.Equal(t, testImage, got)

	// put-if-absent
	cache.SetImage("borscht", "data:image/png;base64,other")
	got, _ = cache.GetImage("borscht")
	assert.Equal(t, testImage, got)

	cache.InvalidateImage("borscht")
	_, found = cache.GetImage("borscht")
	assert.False(t, found)
}

func TestLRUCache_MetaReturnsCopy(t *testing.T) {
	cache := coconut.NewLRUCache(10, 10)

	cache.SetMeta("borscht", &coconut.Meta{Nutrition: borschtNutrition})
	cache.SetMeta("nil", nil)

	got, found := cache.GetMeta("borscht")
	require.True(t, found)
	got.Nutrition.Kcal = 0

	again, _ := cache.GetMeta("borscht")
	assert.Equal(t, borschtNutrition, again.Nutrition)

	_, found = cache.GetMeta("nil")
	assert.False(t, found)

	cache.InvalidateMeta("borscht")
	_, found = cache.GetMeta("borscht")
	assert.False(t, found)
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := coconut.NewLRUCache(2, 2)

	cache.SetImage("a", testImage)
	cache.SetImage("b", testImage)
	_, _ = cache.GetImage("a") // a is now more recent than b
	cache.SetImage("c", testImage)

	_, found := cache.GetImage("b")
	assert.False(t, found, "least recently used entry should be evicted")
	_, found = cache.GetImage("a")
	assert.True(t, found)
	_, found = cache.GetImage("c")
	assert.True(t, found)

	for i := 0; i < 5; i++ {
		cache.SetMeta(coconut.RecipeID(fmt.Sprintf("m%d", i)), &coconut.Meta{})
	}

	stats := cache.Stats()
	assert.Equal(t, int64(4), stats.Evictions)
	assert.Equal(t, 4, stats.Size)
}

func TestLRUCache_StatsAndClear(t *testing.T) {
	cache := coconut.NewLRUCache(0, 0)

	cache.SetImage("a", testImage)
	_, _ = cache.GetImage("a")
	_, _ = cache.GetImage("missing")
	_, _ = cache.GetMeta("missing")

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.ImageHits)
	assert.Equal(t, int64(1), stats.ImageMisses)
	assert.Equal(t, int64(1), stats.MetaMisses)
	assert.Equal(t, 1, stats.Size)

	cache.Clear()
	assert.Equal(t, 0, cache.Stats().Size)
}
