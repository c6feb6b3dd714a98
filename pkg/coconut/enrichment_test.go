package coconut_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
	"github.com/Kokos14v/Ivan-Kosovych/storage/memory"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]coconut.Status{
		{coconut.StatusIdle, coconut.StatusQueuing},
		{coconut.StatusIdle, coconut.StatusReady},
		{coconut.StatusIdle, coconut.StatusError},
		{coconut.StatusQueuing, coconut.StatusLoading},
		{coconut.StatusQueuing, coconut.StatusError},
		{coconut.StatusLoading, coconut.StatusReady},
		{coconut.StatusLoading, coconut.StatusError},
		{coconut.StatusError, coconut.StatusIdle},
	}
	for _, tr := range legal {
		assert.True(t, coconut.CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]coconut.Status{
		{coconut.StatusIdle, coconut.StatusLoading},
		{coconut.StatusReady, coconut.StatusIdle},
		{coconut.StatusReady, coconut.StatusError},
		{coconut.StatusLoading, coconut.StatusQueuing},
		{coconut.StatusError, coconut.StatusReady},
	}
	for _, tr := range illegal {
		assert.False(t, coconut.CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestNewController_RejectsInvalidRecipe(t *testing.T) {
	svc := newTestService(t, nil, newFakeGateway(), testConfig(false))

	_, err := svc.NewController(coconut.Recipe{Title: "no id"}, nil)
	assert.ErrorIs(t, err, coconut.ErrInvalidRecipe)
	_, err = svc.NewController(coconut.Recipe{ID: "x", Title: "  "}, nil)
	assert.ErrorIs(t, err, coconut.ErrInvalidRecipe)
}

func TestController_LocalRecipeAlreadyComplete(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(t, brokenStorage{}, gw, testConfig(false))

	r := borscht()
	r.Image = testImage
	n := borschtNutrition
	r.Nutrition = &n

	c, err := svc.NewController(r, nil)
	require.NoError(t, err)
	require.NoError(t, c.Enrich(context.Background()))

	assert.Equal(t, coconut.StatusReady, c.Status())
	assert.Zero(t, gw.calls())
}

func TestController_FullyCachedMakesNoAICall(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gw := newFakeGateway()
	svc := newTestService(t, store, gw, testConfig(false))

	ids := []string{"borscht", "varenyky", "syrnyky"}
	for _, id := range ids {
		_, err := store.SaveImage(ctx, coconut.RecipeID(id), testImage)
		require.NoError(t, err)
		_, err = store.SaveMeta(ctx, coconut.RecipeID(id), &coconut.Meta{Nutrition: borschtNutrition})
		require.NoError(t, err)
	}

	for _, id := range ids {
		c, err := svc.NewController(recipe(id), nil)
		require.NoError(t, err)
		require.NoError(t, c.Enrich(ctx))

		assert.Equal(t, coconut.StatusReady, c.Status())
		got := c.Recipe()
		assert.Equal(t, testImage, got.Image)
		require.NotNil(t, got.Nutrition)
		assert.Equal(t, borschtNutrition, *got.Nutrition)
	}

	assert.Zero(t, gw.calls())
	assert.Zero(t, svc.Scheduler().Stats().Started)
}

func TestController_FullyCachedEvenWhenQuotaExhausted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, _ = store.SaveImage(ctx, "borscht", testImage)
	_, _ = store.SaveMeta(ctx, "borscht", &coconut.Meta{Nutrition: borschtNutrition})

	config := testConfig(false)
	config.Tracker.SetExhausted(true)
	svc := newTestService(t, store, newFakeGateway(), config)

	c, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Enrich(ctx))
	assert.Equal(t, coconut.StatusReady, c.Status())
}

func TestController_RequestsOnlyMissingAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("image cached", func(t *testing.T) {
		store := memory.New()
		_, _ = store.SaveImage(ctx, "borscht", testImage)
		gw := newFakeGateway()
		svc := newTestService(t, store, gw, testConfig(false))

		c, err := svc.NewController(borscht(), nil)
		require.NoError(t, err)
		require.NoError(t, c.Enrich(ctx))

		assert.Equal(t, coconut.StatusReady, c.Status())
		assert.Equal(t, int32(0), gw.imageCalls.Load())
		assert.Equal(t, int32(1), gw.nutritionCalls.Load())
		assert.Equal(t, 1, store.Len(coconut.NamespaceImages))
		assert.Equal(t, 1, store.Len(coconut.NamespaceMeta))
	})

	t.Run("meta cached", func(t *testing.T) {
		store := memory.New()
		_, _ = store.SaveMeta(ctx, "borscht", &coconut.Meta{Nutrition: borschtNutrition})
		gw := newFakeGateway()
		svc := newTestService(t, store, gw, testConfig(false))

		c, err := svc.NewController(borscht(), nil)
		require.NoError(t, err)
		require.NoError(t, c.Enrich(ctx))

		assert.Equal(t, coconut.StatusReady, c.Status())
		assert.Equal(t, int32(1), gw.imageCalls.Load())
		assert.Equal(t, int32(0), gw.nutritionCalls.Load())
		assert.Equal(t, 1, store.Len(coconut.NamespaceImages))
		assert.Equal(t, 1, store.Len(coconut.NamespaceMeta))
	})

	t.Run("image on the record", func(t *testing.T) {
		store := memory.New()
		gw := newFakeGateway()
		svc := newTestService(t, store, gw, testConfig(false))

		r := borscht()
		r.Image = "data:image/jpeg;base64,static"
		c, err := svc.NewController(r, nil)
		require.NoError(t, err)
		require.NoError(t, c.Enrich(ctx))

		assert.Equal(t, int32(0), gw.imageCalls.Load())
		assert.Equal(t, int32(1), gw.nutritionCalls.Load())
		assert.Equal(t, coconut.ImageAsset("data:image/jpeg;base64,static"), c.Recipe().Image)
	})
}

func TestController_BorschtScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gw := newFakeGateway()
	svc := newTestService(t, store, gw, testConfig(false))

	c, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)

	updates := c.Updates()
	require.NoError(t, c.Enrich(ctx))
	assert.Equal(t, coconut.StatusReady, c.Status())

	var seen []coconut.Status
	for len(updates) > 0 {
		seen = append(seen, <-updates)
	}
	assert.Equal(t, []coconut.Status{coconut.StatusQueuing, coconut.StatusLoading, coconut.StatusReady}, seen)

	meta, found := svc.Cache().GetMeta(ctx, "borscht")
	require.True(t, found)
	assert.Equal(t, coconut.Nutrition{Kcal: 320, Protein: 8, Carbs: 40, Fat: 12}, meta.Nutrition)

	stored, err := store.GetMeta(ctx, "borscht")
	require.NoError(t, err)
	assert.Equal(t, borschtNutrition, stored.Nutrition)

	got := c.Recipe()
	require.NotNil(t, got.Nutrition)
	assert.Equal(t, borschtNutrition, *got.Nutrition)
	assert.Equal(t, testImage, got.Image)
}

func TestController_ResourceExhaustedScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gw := newFakeGateway()
	providerErr := errors.New(`429 RESOURCE_EXHAUSTED: {"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`)
	gw.setErrors(providerErr, nil)

	config := testConfig(false)
	svc := newTestService(t, store, gw, config)

	var quotaCallbacks atomic.Int32
	onQuota := func(coconut.RecipeID) { quotaCallbacks.Add(1) }

	first, err := svc.NewController(borscht(), onQuota)
	require.NoError(t, err)
	err = first.Enrich(ctx)

	assert.ErrorIs(t, err, coconut.ErrQuotaExhausted)
	assert.ErrorIs(t, err, providerErr)
	assert.Equal(t, coconut.StatusError, first.Status())
	assert.True(t, first.QuotaLimited())
	assert.False(t, first.QuotaGated())
	assert.True(t, config.Tracker.Exhausted())
	assert.True(t, config.Tracker.Classify(providerErr))
	assert.Equal(t, int32(1), quotaCallbacks.Load())
	assert.Equal(t, int32(1), gw.imageCalls.Load())
	assert.Equal(t, int32(0), gw.nutritionCalls.Load(), "the unit aborts before requesting nutrition")
	assert.Equal(t, 0, store.Len(coconut.NamespaceMeta))

	callsBefore := gw.calls()
	second, err := svc.NewController(recipe("varenyky"), onQuota)
	require.NoError(t, err)
	err = second.Enrich(ctx)

	assert.ErrorIs(t, err, coconut.ErrQuotaExhausted)
	assert.Equal(t, coconut.StatusError, second.Status())
	assert.True(t, second.QuotaGated())
	assert.Equal(t, callsBefore, gw.calls())
	assert.Equal(t, int32(1), quotaCallbacks.Load(), "a gated controller does not report a new escalation")
	assert.Equal(t, int64(1), svc.Scheduler().Stats().Started)
}

func TestController_QuotaFlipGatesEveryLaterController(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	config := testConfig(true)
	svc := newTestService(t, nil, gw, config)

	config.Tracker.Classify(errors.New("quota exceeded for model"))

	for i := 0; i < 5; i++ {
		c, err := svc.NewController(recipe(fmt.Sprintf("r%d", i)), nil)
		require.NoError(t, err)
		assert.ErrorIs(t, c.Enrich(ctx), coconut.ErrQuotaExhausted)
		assert.Equal(t, coconut.StatusError, c.Status())
	}
	assert.Zero(t, gw.calls())

	svc.ResetQuota()

	c, err := svc.NewController(recipe("after-reset"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Enrich(ctx))
	assert.Equal(t, coconut.StatusReady, c.Status())
	assert.Equal(t, 2, gw.calls())
}

func TestController_TransientFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gw := newFakeGateway()
	gw.setErrors(nil, errors.New("503 service unavailable"))
	config := testConfig(false)
	svc := newTestService(t, store, gw, config)

	var quotaCallbacks atomic.Int32
	c, err := svc.NewController(borscht(), func(coconut.RecipeID) { quotaCallbacks.Add(1) })
	require.NoError(t, err)

	err = c.Enrich(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, coconut.ErrQuotaExhausted)
	assert.Equal(t, coconut.StatusError, c.Status())
	assert.False(t, c.QuotaLimited())
	assert.False(t, config.Tracker.Exhausted())
	assert.Zero(t, quotaCallbacks.Load())

	// the image that did succeed is kept and cached
	assert.Equal(t, testImage, c.Recipe().Image)
	assert.Nil(t, c.Recipe().Nutrition)
	assert.Equal(t, 1, store.Len(coconut.NamespaceImages))
	assert.Equal(t, 0, store.Len(coconut.NamespaceMeta))

	// no automatic retry
	require.NoError(t, c.Enrich(ctx))
	assert.Equal(t, int32(1), gw.nutritionCalls.Load())

	// manual reset, then a retry asks only for what is still missing
	gw.setErrors(nil, nil)
	require.NoError(t, c.Reset())
	assert.Equal(t, coconut.StatusIdle, c.Status())
	require.NoError(t, c.Enrich(ctx))
	assert.Equal(t, coconut.StatusReady, c.Status())
	assert.Equal(t, int32(1), gw.imageCalls.Load())
	assert.Equal(t, int32(2), gw.nutritionCalls.Load())
}

func TestController_ResetOnlyFromError(t *testing.T) {
	svc := newTestService(t, nil, newFakeGateway(), testConfig(false))
	c, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Reset(), coconut.ErrInvalidTransition)

	require.NoError(t, c.Enrich(context.Background()))
	assert.ErrorIs(t, c.Reset(), coconut.ErrInvalidTransition)
	assert.Equal(t, coconut.StatusReady, c.Status())
}

func TestController_OneShotGuard(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 20 * time.Millisecond
	svc := newTestService(t, nil, gw, testConfig(true))

	c, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Enrich(context.Background())
		}()
	}
	wg.Wait()

	status, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coconut.StatusReady, status)
	assert.Equal(t, int32(1), gw.imageCalls.Load())
	assert.Equal(t, int32(1), gw.nutritionCalls.Load())
}

func TestController_VisibilityTrigger(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(t, nil, gw, testConfig(true))

	c, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)

	c.SetVisible(context.Background(), false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, coconut.StatusIdle, c.Status())
	assert.Zero(t, gw.calls())

	c.SetVisible(context.Background(), true)
	assert.True(t, c.Visible())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, coconut.StatusReady, status)

	c.SetVisible(context.Background(), false)
	c.SetVisible(context.Background(), true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, gw.calls())
}

func TestController_SameRecipeSharesOneAttempt(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.delay = 50 * time.Millisecond
	svc := newTestService(t, nil, gw, testConfig(true))

	controllers := make([]*coconut.Controller, 4)
	for i := range controllers {
		c, err := svc.NewController(borscht(), nil)
		require.NoError(t, err)
		controllers[i] = c
	}

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c *coconut.Controller) {
			defer wg.Done()
			assert.NoError(t, c.Enrich(ctx))
		}(c)
	}
	wg.Wait()

	for _, c := range controllers {
		assert.Equal(t, coconut.StatusReady, c.Status())
		assert.Equal(t, testImage, c.Recipe().Image)
	}
	assert.Equal(t, int32(1), gw.imageCalls.Load())
	assert.Equal(t, int32(1), gw.nutritionCalls.Load())
}

func TestController_CancelledCallerKeepsRecipeInFlight(t *testing.T) {
	bg := context.Background()
	gw := newFakeGateway()
	gw.delay = 150 * time.Millisecond
	svc := newTestService(t, nil, gw, testConfig(true))

	first, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	firstErr := make(chan error, 1)
	go func() { firstErr <- first.Enrich(ctx) }()
	require.Eventually(t, func() bool { return gw.imageCalls.Load() == 1 }, time.Second, time.Millisecond)

	joined, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)
	joinedErr := make(chan error, 1)
	go func() { joinedErr <- joined.Enrich(bg) }()

	assert.ErrorIs(t, <-firstErr, context.DeadlineExceeded)
	assert.Equal(t, coconut.StatusError, first.Status())

	// the unit is still running; a new controller must wait for it, not start another
	later, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)
	require.NoError(t, later.Enrich(bg))
	assert.Equal(t, coconut.StatusReady, later.Status())
	assert.Equal(t, testImage, later.Recipe().Image)

	require.NoError(t, <-joinedErr)
	assert.Equal(t, coconut.StatusReady, joined.Status())

	assert.Equal(t, int32(1), gw.imageCalls.Load())
	assert.Equal(t, int32(1), gw.nutritionCalls.Load())
}

func TestController_JoinedCallerRetriesWhenLeaderDroppedFromQueue(t *testing.T) {
	bg := context.Background()
	gw := newFakeGateway()
	gw.delay = 100 * time.Millisecond
	svc := newTestService(t, nil, gw, testConfig(false))

	// occupies the single standard slot
	blocker, err := svc.NewController(recipe("blocker"), nil)
	require.NoError(t, err)
	blockerErr := make(chan error, 1)
	go func() { blockerErr <- blocker.Enrich(bg) }()
	require.Eventually(t, func() bool { return gw.imageCalls.Load() == 1 }, time.Second, time.Millisecond)

	leader, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(bg, 30*time.Millisecond)
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() { leaderErr <- leader.Enrich(ctx) }()
	require.Eventually(t, func() bool { return svc.Scheduler().Stats().Pending == 1 }, time.Second, time.Millisecond)

	follower, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)
	followerErr := make(chan error, 1)
	go func() { followerErr <- follower.Enrich(bg) }()

	assert.ErrorIs(t, <-leaderErr, context.DeadlineExceeded)
	require.NoError(t, <-blockerErr)
	require.NoError(t, <-followerErr)

	assert.Equal(t, coconut.StatusReady, follower.Status())
	assert.Equal(t, testImage, follower.Recipe().Image)
	assert.Equal(t, int32(2), gw.imageCalls.Load())
	assert.Equal(t, int32(2), gw.nutritionCalls.Load())
	assert.GreaterOrEqual(t, svc.Scheduler().Stats().Dropped, int64(1))
}

func TestController_QueuedUnitsRefusedAfterFlipDoNotReportEscalation(t *testing.T) {
	bg := context.Background()
	gw := newFakeGateway()
	gw.delay = 20 * time.Millisecond
	gw.setErrors(errors.New("429 RESOURCE_EXHAUSTED"), nil)
	config := testConfig(false)
	svc := newTestService(t, nil, gw, config)

	var callbacks atomic.Int32
	onQuota := func(coconut.RecipeID) { callbacks.Add(1) }

	controllers := make([]*coconut.Controller, 3)
	for i := range controllers {
		c, err := svc.NewController(recipe(fmt.Sprintf("queued-%d", i)), onQuota)
		require.NoError(t, err)
		controllers[i] = c
	}

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c *coconut.Controller) {
			defer wg.Done()
			assert.ErrorIs(t, c.Enrich(bg), coconut.ErrQuotaExhausted)
		}(c)
	}
	wg.Wait()

	for _, c := range controllers {
		assert.True(t, c.QuotaLimited())
	}
	assert.True(t, config.Tracker.Exhausted())
	assert.Equal(t, int32(1), gw.imageCalls.Load())
	assert.Equal(t, int32(1), callbacks.Load())
}

func TestController_NDistinctRecipesNWrites(t *testing.T) {
	ctx := context.Background()
	store := &countingStorage{Storage: memory.New()}
	gw := newFakeGateway()
	svc := newTestService(t, store, gw, testConfig(true))

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		c, err := svc.NewController(recipe(fmt.Sprintf("recipe-%d", i)), nil)
		require.NoError(t, err)

		// two controllers per id race to check-then-write
		twin, err := svc.NewController(recipe(fmt.Sprintf("recipe-%d", i)), nil)
		require.NoError(t, err)

		for _, ctl := range []*coconut.Controller{c, twin} {
			wg.Add(1)
			go func(ctl *coconut.Controller) {
				defer wg.Done()
				assert.NoError(t, ctl.Enrich(ctx))
			}(ctl)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(n), store.imageWrites.Load())
	assert.Equal(t, int32(n), store.metaWrites.Load())

	for i := 0; i < n; i++ {
		meta, found := svc.Cache().GetMeta(ctx, coconut.RecipeID(fmt.Sprintf("recipe-%d", i)))
		require.True(t, found)
		assert.False(t, meta.Nutrition.IsZero())
	}
}

func TestController_CallerCancellationEndsWait(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 100 * time.Millisecond
	store := memory.New()
	svc := newTestService(t, store, gw, testConfig(false))

	c, err := svc.NewController(borscht(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Enrich(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, coconut.StatusError, c.Status())

	// the started unit still runs to completion and fills the cache
	assert.Eventually(t, func() bool {
		return store.Len(coconut.NamespaceImages) == 1 && store.Len(coconut.NamespaceMeta) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
