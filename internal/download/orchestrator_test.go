package download

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/offline-regions/internal/clock"
	"github.com/handiism/offline-regions/internal/metadata"
	"github.com/handiism/offline-regions/internal/model"
	"github.com/handiism/offline-regions/internal/store/storetest"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var parisDef = model.Definition{
	StyleURL:   "https://tiles.example.com/{z}/{x}/{y}.png",
	North:      48.91,
	East:       2.42,
	South:      48.81,
	West:       2.25,
	MinZoom:    10,
	MaxZoom:    12,
	PixelRatio: 1,
}

type harness struct {
	orch  *Orchestrator
	store *storetest.Fake
	clock *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := storetest.New()
	clk := clock.NewFake(start)
	orch := NewOrchestrator(fake, Options{Clock: clk, Logger: zerolog.Nop()})
	return &harness{orch: orch, store: fake, clock: clk}
}

// subscribe attaches to the stream and consumes the replayed current value.
func (h *harness) subscribe(t *testing.T) *Subscription {
	t.Helper()
	sub := h.orch.Subscribe()
	t.Cleanup(sub.Close)
	next(t, sub)
	return sub
}

func (h *harness) seed(t *testing.T, name string) *model.Region {
	t.Helper()
	meta, err := metadata.Encode(name)
	require.NoError(t, err)
	return h.store.Seed(parisDef, meta)
}

func (h *harness) waitActive(t *testing.T) *model.Region {
	t.Helper()
	select {
	case region := <-h.store.Activated():
		return region
	case <-time.After(2 * time.Second):
		t.Fatal("region was never activated")
		return nil
	}
}

func next(t *testing.T, sub *Subscription) model.DownloadEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireFailure[T model.Failure](t *testing.T, ev model.DownloadEvent, name string) T {
	t.Helper()
	failed, ok := ev.(model.Failed)
	require.True(t, ok, "event %v is not Failed", ev)
	assert.Equal(t, name, failed.RegionName)
	cause, ok := failed.Cause.(T)
	require.True(t, ok, "cause %T is not %T", failed.Cause, *new(T))
	return cause
}

func TestExecute_ProgressThenDone(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t)

	h.orch.Execute(context.Background(), "Paris", parisDef)
	region := h.waitActive(t)
	assert.True(t, h.store.Observed(region))

	h.clock.Advance(5 * time.Second)
	h.store.Progress(region, 0, 100)
	h.store.Progress(region, 50, 100)
	h.store.Progress(region, 100, 100)

	assert.Equal(t, model.Downloading{RegionName: "Paris", Percent: 50}, next(t, sub))
	done, ok := next(t, sub).(model.Done)
	require.True(t, ok)
	assert.Equal(t, "Paris", done.RegionName)
	assert.False(t, done.CompletedAt.Before(start))
	assertNoEvent(t, sub)

	assert.False(t, h.orch.IsRunning())
	assert.Equal(t, 1, h.store.CreateCalls())
	assert.Eventually(t, func() bool { return !h.store.Observed(region) }, time.Second, 5*time.Millisecond)
}

func TestExecute_DuplicateName(t *testing.T) {
	h := newHarness(t)
	existing := h.seed(t, "Paris")
	sub := h.subscribe(t)

	h.orch.Execute(context.Background(), "Paris", parisDef)

	cause := requireFailure[*model.RegionNameExists](t, next(t, sub), "Paris")
	assert.Equal(t, existing.ID, cause.Region.ID)
	assert.Equal(t, 0, h.store.CreateCalls())
	assert.False(t, h.orch.IsRunning())
}

func TestExecute_NameMatchIsCaseSensitive(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "paris")

	h.orch.Execute(context.Background(), "Paris", parisDef)

	h.waitActive(t)
	assert.Equal(t, 1, h.store.CreateCalls())
}

func TestExecute_ProgressIsDeduplicatedAndMonotonic(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t)

	h.orch.Execute(context.Background(), "Paris", parisDef)
	region := h.waitActive(t)

	// Indeterminate counts never produce events.
	h.store.Emit(region, model.Status{CompletedResourceCount: 40, RequiredResourceCount: 50})
	for _, completed := range []int64{100, 101, 200, 150, 204, 300} {
		h.store.Progress(region, completed, 1000)
	}

	var got []int
	for range 3 {
		ev, ok := next(t, sub).(model.Downloading)
		require.True(t, ok)
		got = append(got, ev.Percent)
	}
	assert.Equal(t, []int{10, 20, 30}, got)
	assertNoEvent(t, sub)
	assert.True(t, h.orch.IsRunning())
}

func TestExecute_StallTimeout(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t)

	h.orch.Execute(context.Background(), "Paris", parisDef)
	region := h.waitActive(t)

	h.store.Progress(region, 10, 100)
	assert.Equal(t, model.Downloading{RegionName: "Paris", Percent: 10}, next(t, sub))

	h.clock.Advance(29 * time.Second)
	h.store.Progress(region, 20, 100)
	assert.Equal(t, model.Downloading{RegionName: "Paris", Percent: 20}, next(t, sub))

	// Repeating the same percent does not count as progress.
	h.clock.Advance(15 * time.Second)
	h.store.Progress(region, 20, 100)
	h.clock.Advance(14 * time.Second)
	assertNoEvent(t, sub)
	assert.True(t, h.orch.IsRunning())

	h.clock.Advance(time.Second)
	cause := requireFailure[*model.Timeout](t, next(t, sub), "Paris")
	assert.Equal(t, DefaultStallTimeout, cause.After)

	h.store.Progress(region, 60, 100)
	h.store.Progress(region, 100, 100)
	assertNoEvent(t, sub)
	assert.False(t, h.orch.IsRunning())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestExecute_TimeoutWithoutAnyStatus(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t)

	h.orch.Execute(context.Background(), "Paris", parisDef)
	h.waitActive(t)
	h.clock.Advance(DefaultStallTimeout)

	requireFailure[*model.Timeout](t, next(t, sub), "Paris")
}

func TestIsRunning_Lifecycle(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.orch.IsRunning())
	assert.Equal(t, model.Idle{}, h.orch.Last())

	sub := h.subscribe(t)
	h.orch.Execute(context.Background(), "Paris", parisDef)
	assert.True(t, h.orch.IsRunning())

	region := h.waitActive(t)
	h.store.Progress(region, 100, 100)
	_, ok := next(t, sub).(model.Done)
	require.True(t, ok)
	assert.False(t, h.orch.IsRunning())

	// A terminal event leaves the orchestrator ready for the next region.
	h.orch.Execute(context.Background(), "Lyon", parisDef)
	region = h.waitActive(t)
	h.store.Progress(region, 1, 2)
	assert.Equal(t, model.Downloading{RegionName: "Lyon", Percent: 50}, next(t, sub))
}

func TestExecute_Failures(t *testing.T) {
	t.Run("create error", func(t *testing.T) {
		h := newHarness(t)
		h.store.CreateErr = errors.New("disk full")
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "Paris", parisDef)

		cause := requireFailure[*model.CreateRegionError](t, next(t, sub), "Paris")
		assert.Equal(t, "disk full", cause.Message)
		assert.False(t, h.orch.IsRunning())
	})

	t.Run("list error", func(t *testing.T) {
		h := newHarness(t)
		h.store.ListErr = errors.New("database locked")
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "Paris", parisDef)

		requireFailure[*model.RegionsFetchFailure](t, next(t, sub), "Paris")
		assert.Equal(t, 0, h.store.CreateCalls())
	})

	t.Run("metadata error", func(t *testing.T) {
		h := newHarness(t)
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "bad \xff name", parisDef)

		cause := requireFailure[*model.MetadataError](t, next(t, sub), "bad \xff name")
		assert.ErrorIs(t, cause, metadata.ErrInvalidName)
		assert.Equal(t, 0, h.store.CreateCalls())
	})

	t.Run("activation error", func(t *testing.T) {
		h := newHarness(t)
		h.store.StateErr = errors.New("offline manager gone")
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "Paris", parisDef)

		requireFailure[*model.UnrecognizedError](t, next(t, sub), "Paris")
	})

	t.Run("region error", func(t *testing.T) {
		h := newHarness(t)
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "Paris", parisDef)
		region := h.waitActive(t)
		h.store.Fail(region, model.RegionError{Reason: model.ReasonConnection, Message: "no route to host"})
		h.store.Progress(region, 100, 100)

		cause := requireFailure[*model.RegionError](t, next(t, sub), "Paris")
		assert.Equal(t, model.ReasonConnection, cause.Reason)
		assertNoEvent(t, sub)
		assert.Eventually(t, func() bool { return !h.store.Observed(region) }, time.Second, 5*time.Millisecond)
	})
}

func TestExecute_TileCountLimitIsNotTerminal(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t)

	h.orch.Execute(context.Background(), "Paris", parisDef)
	region := h.waitActive(t)
	h.store.LimitExceeded(region, 6000)
	h.store.Progress(region, 6000, 6000)

	assert.Equal(t, model.TileCountLimitExceeded{Limit: 6000}, next(t, sub))
	_, ok := next(t, sub).(model.Done)
	assert.True(t, ok)
}

func TestExecute_CancelledContextDropsCallbacks(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t)
	ctx, cancel := context.WithCancel(context.Background())

	h.orch.Execute(ctx, "Paris", parisDef)
	region := h.waitActive(t)
	h.store.Progress(region, 25, 100)
	assert.Equal(t, model.Downloading{RegionName: "Paris", Percent: 25}, next(t, sub))

	cancel()
	assert.Eventually(t, func() bool { return !h.orch.IsRunning() }, time.Second, 5*time.Millisecond)

	h.store.Progress(region, 50, 100)
	h.store.Progress(region, 100, 100)
	h.clock.Advance(time.Minute)
	assertNoEvent(t, sub)

	// The store was never told to stop.
	assert.Equal(t, model.StateActive, h.store.State(region))
}

// blockFirst returns a store hook that parks the first call until release
// is closed. entered is closed once that call is parked.
func blockFirst() (hook func(context.Context), entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var calls atomic.Int32
	hook = func(context.Context) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	}
	return hook, entered, release
}

func waitClosed(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for store call")
	}
}

func storedNames(t *testing.T, h *harness) []string {
	t.Helper()
	var names []string
	for _, region := range h.store.Regions() {
		names = append(names, h.orch.RegionName(region))
	}
	return names
}

func TestExecute_SecondCallSupersedesFirst(t *testing.T) {
	t.Run("while creating", func(t *testing.T) {
		h := newHarness(t)
		hook, entered, release := blockFirst()
		h.store.BeforeCreate = hook
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "Paris", parisDef)
		waitClosed(t, entered)

		h.orch.Execute(context.Background(), "Lyon", parisDef)
		lyon := h.waitActive(t)
		close(release)

		// The dropped run's region is removed once its create returns.
		assert.Eventually(t, func() bool { return h.store.CreateCalls() == 2 && len(h.store.Regions()) == 1 },
			time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"Lyon"}, storedNames(t, h))

		h.store.Progress(lyon, 100, 100)
		done, ok := next(t, sub).(model.Done)
		require.True(t, ok)
		assert.Equal(t, "Lyon", done.RegionName)
		assertNoEvent(t, sub)

		// The name of the dropped run is free again.
		h.orch.Execute(context.Background(), "Paris", parisDef)
		paris := h.waitActive(t)
		h.store.Progress(paris, 1, 2)
		assert.Equal(t, model.Downloading{RegionName: "Paris", Percent: 50}, next(t, sub))
	})

	t.Run("while listing", func(t *testing.T) {
		h := newHarness(t)
		hook, entered, release := blockFirst()
		h.store.BeforeList = hook
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "Paris", parisDef)
		waitClosed(t, entered)

		h.orch.Execute(context.Background(), "Lyon", parisDef)
		close(release)
		lyon := h.waitActive(t)

		assert.Never(t, func() bool { return h.store.CreateCalls() > 1 }, 100*time.Millisecond, 5*time.Millisecond)
		assert.Equal(t, []string{"Lyon"}, storedNames(t, h))

		h.store.Progress(lyon, 1, 4)
		assert.Equal(t, model.Downloading{RegionName: "Lyon", Percent: 25}, next(t, sub))
	})

	t.Run("while downloading", func(t *testing.T) {
		h := newHarness(t)
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "Paris", parisDef)
		paris := h.waitActive(t)

		h.orch.Execute(context.Background(), "Lyon", parisDef)
		lyon := h.waitActive(t)

		h.store.Progress(paris, 90, 100)
		h.store.Fail(paris, model.RegionError{Reason: model.ReasonServer, Message: "HTTP 503"})
		h.clock.Advance(DefaultStallTimeout / 2)
		assertNoEvent(t, sub)

		h.store.Progress(lyon, 30, 100)
		assert.Equal(t, model.Downloading{RegionName: "Lyon", Percent: 30}, next(t, sub))
		assert.True(t, h.orch.IsRunning())
	})
}

// panicClock panics from Now once armed.
type panicClock struct {
	*clock.Fake
	armed atomic.Bool
}

func (c *panicClock) Now() time.Time {
	if c.armed.Load() {
		panic("clock unavailable")
	}
	return c.Fake.Now()
}

func TestExecute_PanicsBecomeUnrecognizedError(t *testing.T) {
	t.Run("in pipeline", func(t *testing.T) {
		h := newHarness(t)
		h.store.BeforeCreate = func(context.Context) { panic("store exploded") }
		sub := h.subscribe(t)

		h.orch.Execute(context.Background(), "Paris", parisDef)

		cause := requireFailure[*model.UnrecognizedError](t, next(t, sub), "Paris")
		assert.Contains(t, cause.Error(), "store exploded")
		assert.False(t, h.orch.IsRunning())
	})

	t.Run("in store callback", func(t *testing.T) {
		fake := storetest.New()
		clk := &panicClock{Fake: clock.NewFake(start)}
		orch := NewOrchestrator(fake, Options{Clock: clk, Logger: zerolog.Nop()})
		sub := orch.Subscribe()
		t.Cleanup(sub.Close)
		next(t, sub)

		orch.Execute(context.Background(), "Paris", parisDef)
		var region *model.Region
		select {
		case region = <-fake.Activated():
		case <-time.After(2 * time.Second):
			t.Fatal("region was never activated")
		}

		clk.armed.Store(true)
		fake.Progress(region, 100, 100)

		cause := requireFailure[*model.UnrecognizedError](t, next(t, sub), "Paris")
		assert.Contains(t, cause.Error(), "clock unavailable")
		assert.False(t, orch.IsRunning())
	})
}

func TestSubscribe_ReplaysLastAndFansOut(t *testing.T) {
	h := newHarness(t)
	early := h.subscribe(t)

	h.orch.Execute(context.Background(), "Paris", parisDef)
	region := h.waitActive(t)
	h.store.Progress(region, 40, 100)
	assert.Equal(t, model.Downloading{RegionName: "Paris", Percent: 40}, next(t, early))

	late := h.orch.Subscribe()
	defer late.Close()
	assert.Equal(t, model.Downloading{RegionName: "Paris", Percent: 40}, next(t, late))

	h.store.Progress(region, 100, 100)
	for _, sub := range []*Subscription{early, late} {
		_, ok := next(t, sub).(model.Done)
		assert.True(t, ok)
	}
}

func TestRegionName(t *testing.T) {
	h := newHarness(t)
	named := h.seed(t, "Kraków")
	broken := h.store.Seed(parisDef, []byte("garbage"))

	assert.Equal(t, "Kraków", h.orch.RegionName(named))
	assert.Equal(t, metadata.FallbackName(broken.ID), h.orch.RegionName(broken))
}
