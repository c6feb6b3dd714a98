package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
	"github.com/Kokos14v/Ivan-Kosovych/storage/memory"
)

const (
	imgA = coconut.ImageAsset("data:image/png;base64,AAAA")
	imgB = coconut.ImageAsset("data:image/png;base64,BBBB")
)

var errHotDown = errors.New("hot tier down")

// failingHot rejects every write.
type failingHot struct {
	*memory.Storage
}

func (f failingHot) SaveImage(context.Context, coconut.RecipeID, coconut.ImageAsset) (bool, error) {
	return false, errHotDown
}

func (f failingHot) SaveMeta(context.Context, coconut.RecipeID, *coconut.Meta) (bool, error) {
	return false, errHotDown
}

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, storage)
		assert.NoError(t, storage.Close())
	})

	t.Run("nil hot storage", func(t *testing.T) {
		storage, err := New(Config{Cold: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})

	t.Run("nil cold storage", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
	})

	t.Run("default sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncHotFill: true})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 1000, cap(storage.syncQueue))
	})

	t.Run("custom sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncHotFill: true, SyncBufferSize: 500})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 500, cap(storage.syncQueue))
	})
}

// --- Read-Through Strategy Tests ---

func TestStorage_GetImage_ReadThrough(t *testing.T) {
	ctx := context.Background()

	t.Run("hot hit skips cold", func(t *testing.T) {
		hot, cold := memory.New(), memory.New()
		_, err := hot.SaveImage(ctx, "borscht", imgA)
		require.NoError(t, err)

		s, err := New(Config{Hot: hot, Cold: cold})
		require.NoError(t, err)

		got, err := s.GetImage(ctx, "borscht")
		require.NoError(t, err)
		assert.Equal(t, imgA, got)
	})

	t.Run("cold hit repairs hot", func(t *testing.T) {
		hot, cold := memory.New(), memory.New()
		_, err := cold.SaveImage(ctx, "borscht", imgA)
		require.NoError(t, err)

		s, err := New(Config{Hot: hot, Cold: cold})
		require.NoError(t, err)

		got, err := s.GetImage(ctx, "borscht")
		require.NoError(t, err)
		assert.Equal(t, imgA, got)

		repaired, err := hot.GetImage(ctx, "borscht")
		require.NoError(t, err)
		assert.Equal(t, imgA, repaired)
	})

	t.Run("miss in both tiers", func(t *testing.T) {
		s, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		require.NoError(t, err)

		_, err = s.GetImage(ctx, "missing")
		assert.ErrorIs(t, err, coconut.ErrNotFound)
	})
}

func TestStorage_GetMeta_ReadThrough(t *testing.T) {
	ctx := context.Background()
	hot, cold := memory.New(), memory.New()
	meta := &coconut.Meta{Nutrition: coconut.Nutrition{Kcal: 320, Protein: 8, Carbs: 40, Fat: 12}}
	_, err := cold.SaveMeta(ctx, "borscht", meta)
	require.NoError(t, err)

	s, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	got, err := s.GetMeta(ctx, "borscht")
	require.NoError(t, err)
	assert.Equal(t, meta.Nutrition, got.Nutrition)

	repaired, err := hot.GetMeta(ctx, "borscht")
	require.NoError(t, err)
	assert.Equal(t, meta.Nutrition, repaired.Nutrition)
}

// --- Write-Through Strategy Tests ---

func TestStorage_SaveImage_WriteThrough(t *testing.T) {
	ctx := context.Background()

	t.Run("writes both tiers", func(t *testing.T) {
		hot, cold := memory.New(), memory.New()
		s, err := New(Config{Hot: hot, Cold: cold})
		require.NoError(t, err)

		written, err := s.SaveImage(ctx, "borscht", imgA)
		require.NoError(t, err)
		assert.True(t, written)

		fromCold, err := cold.GetImage(ctx, "borscht")
		require.NoError(t, err)
		assert.Equal(t, imgA, fromCold)
		fromHot, err := hot.GetImage(ctx, "borscht")
		require.NoError(t, err)
		assert.Equal(t, imgA, fromHot)
	})

	t.Run("cold keeps the first entry", func(t *testing.T) {
		hot, cold := memory.New(), memory.New()
		_, err := cold.SaveImage(ctx, "borscht", imgA)
		require.NoError(t, err)

		s, err := New(Config{Hot: hot, Cold: cold})
		require.NoError(t, err)

		written, err := s.SaveImage(ctx, "borscht", imgB)
		require.NoError(t, err)
		assert.False(t, written)

		// hot mirrors what cold kept, not the rejected value
		fromHot, err := hot.GetImage(ctx, "borscht")
		require.NoError(t, err)
		assert.Equal(t, imgA, fromHot)
	})

	t.Run("hot failure is reported but not returned", func(t *testing.T) {
		var mu sync.Mutex
		var reported []error
		s, err := New(Config{
			Hot:  failingHot{memory.New()},
			Cold: memory.New(),
			AsyncErrorHandler: func(err error) {
				mu.Lock()
				reported = append(reported, err)
				mu.Unlock()
			},
		})
		require.NoError(t, err)

		written, err := s.SaveImage(ctx, "borscht", imgA)
		require.NoError(t, err)
		assert.True(t, written)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, reported, 1)
		assert.ErrorIs(t, reported[0], errHotDown)
	})
}

func TestStorage_SaveMeta_WriteThrough(t *testing.T) {
	ctx := context.Background()
	hot, cold := memory.New(), memory.New()
	s, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	first := &coconut.Meta{Nutrition: coconut.Nutrition{Kcal: 320}}
	second := &coconut.Meta{Nutrition: coconut.Nutrition{Kcal: 999}}

	written, err := s.SaveMeta(ctx, "borscht", first)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.SaveMeta(ctx, "borscht", second)
	require.NoError(t, err)
	assert.False(t, written)

	got, err := s.GetMeta(ctx, "borscht")
	require.NoError(t, err)
	assert.Equal(t, 320.0, got.Nutrition.Kcal)
}

// --- Async Hot Fill Tests ---

func TestStorage_AsyncHotFill(t *testing.T) {
	ctx := context.Background()
	hot, cold := memory.New(), memory.New()
	s, err := New(Config{Hot: hot, Cold: cold, AsyncHotFill: true})
	require.NoError(t, err)

	written, err := s.SaveImage(ctx, "borscht", imgA)
	require.NoError(t, err)
	assert.True(t, written)

	assert.Eventually(t, func() bool {
		_, err := hot.GetImage(ctx, "borscht")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
}

func TestStorage_Close_DrainsQueue(t *testing.T) {
	ctx := context.Background()
	hot, cold := memory.New(), memory.New()
	s, err := New(Config{Hot: hot, Cold: cold, AsyncHotFill: true, SyncBufferSize: 64})
	require.NoError(t, err)

	ids := []coconut.RecipeID{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		_, err := s.SaveImage(ctx, id, imgA)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, len(ids), hot.Len(coconut.NamespaceImages))
}

func TestStorage_WorksAsServiceBackend(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	s, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	cache, err := coconut.NewAssetCache(s, coconut.WithHotTier(nil))
	require.NoError(t, err)

	ctx := context.Background()
	cache.SaveImage(ctx, "borscht", imgA)
	got, ok := cache.GetImage(ctx, "borscht")
	require.True(t, ok)
	assert.Equal(t, imgA, got)
	assert.Equal(t, 1, cold.Len(coconut.NamespaceImages))
}
