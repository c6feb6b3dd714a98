package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

const testImage = coconut.ImageAsset("data:image/png;base64,AAAA")

func TestStorage_Image(t *testing.T) {
	storage := New()
	ctx := context.Background()

	_, err := storage.GetImage(ctx, "borscht")
	assert.ErrorIs(t, err, coconut.ErrNotFound)

	written, err := storage.SaveImage(ctx, "borscht", testImage)
	require.NoError(t, err)
	assert.True(t, written)

	got, err := storage.GetImage(ctx, "borscht")
	require.NoError(t, err)
	assert.Equal(t, testImage, got)
}

func TestStorage_ImageIsPermanent(t *testing.T) {
	storage := New()
	ctx := context.Background()

	_, err := storage.SaveImage(ctx, "borscht", testImage)
	require.NoError(t, err)

	written, err := storage.SaveImage(ctx, "borscht", "data:image/png;base64,BBBB")
	require.NoError(t, err)
	assert.False(t, written)

	got, err := storage.GetImage(ctx, "borscht")
	require.NoError(t, err)
	assert.Equal(t, testImage, got)
}

func TestStorage_Meta(t *testing.T) {
	storage := New()
	ctx := context.Background()

	_, err := storage.GetMeta(ctx, "borscht")
	assert.ErrorIs(t, err, coconut.ErrNotFound)

	meta := &coconut.Meta{Nutrition: coconut.Nutrition{Kcal: 320, Protein: 8, Carbs: 40, Fat: 12}}
	written, err := storage.SaveMeta(ctx, "borscht", meta)
	require.NoError(t, err)
	assert.True(t, written)

	// mutating the caller's record must not leak into storage
	meta.Nutrition.Kcal = 1

	got, err := storage.GetMeta(ctx, "borscht")
	require.NoError(t, err)
	assert.Equal(t, float64(320), got.Nutrition.Kcal)

	written, err = storage.SaveMeta(ctx, "borscht", &coconut.Meta{})
	require.NoError(t, err)
	assert.False(t, written)
}

func TestStorage_InvalidInput(t *testing.T) {
	storage := New()
	ctx := context.Background()

	_, err := storage.SaveImage(ctx, "", testImage)
	assert.Error(t, err)
	_, err = storage.SaveMeta(ctx, "borscht", nil)
	assert.Error(t, err)
}

func TestStorage_ConcurrentSaveWritesOnce(t *testing.T) {
	storage := New()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := storage.SaveImage(ctx, "borscht", testImage)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				written++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, written)
	assert.Equal(t, 1, storage.Len(coconut.NamespaceImages))
}

func TestStorage_Clear(t *testing.T) {
	storage := New()
	ctx := context.Background()

	_, _ = storage.SaveImage(ctx, "a", testImage)
	_, _ = storage.SaveMeta(ctx, "a", &coconut.Meta{})
	assert.Equal(t, 1, storage.Len(coconut.NamespaceImages))
	assert.Equal(t, 1, storage.Len(coconut.NamespaceMeta))

	storage.Clear()
	assert.Equal(t, 0, storage.Len(coconut.NamespaceImages))
	assert.Equal(t, 0, storage.Len(coconut.NamespaceMeta))
	assert.Equal(t, 0, storage.Len("unknown"))
}
