// Package storetest provides a scriptable in-memory store.Store for tests.
package storetest

import (
	"context"
	"sync"

	"github.com/handiism/offline-regions/internal/model"
	"github.com/handiism/offline-regions/internal/store"
)

// Fake is an in-memory store.Store. Downloads never progress on their own:
// tests drive them with Emit, Fail and LimitExceeded.
type Fake struct {
	mu        sync.Mutex
	nextID    int64
	regions   []*model.Region
	observers map[int64]store.Observer
	states    map[int64]model.DownloadState

	// Injected failures.
	ListErr   error
	CreateErr error
	DeleteErr error
	StateErr  error

	// Hooks run before the matching call takes the lock, so they may block
	// or panic.
	BeforeList   func(ctx context.Context)
	BeforeCreate func(ctx context.Context)

	createCalls int
	listCalls   int
	activated   chan *model.Region
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		nextID:    1,
		observers: make(map[int64]store.Observer),
		states:    make(map[int64]model.DownloadState),
		activated: make(chan *model.Region, 16),
	}
}

// Seed adds an existing region without counting it as a create call.
func (f *Fake) Seed(def model.Definition, metadata []byte) *model.Region {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(def, metadata)
}

func (f *Fake) addLocked(def model.Definition, metadata []byte) *model.Region {
	r := &model.Region{ID: f.nextID, Definition: def, Metadata: metadata}
	f.nextID++
	f.regions = append(f.regions, r)
	return r
}

func (f *Fake) CreateRegion(ctx context.Context, def model.Definition, metadata []byte) (*model.Region, error) {
	if f.BeforeCreate != nil {
		f.BeforeCreate(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return f.addLocked(def, metadata), nil
}

func (f *Fake) ListRegions(ctx context.Context) ([]*model.Region, error) {
	if f.BeforeList != nil {
		f.BeforeList(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]*model.Region, len(f.regions))
	copy(out, f.regions)
	return out, nil
}

func (f *Fake) SetObserver(region *model.Region, observer store.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if observer == nil {
		delete(f.observers, region.ID)
		return
	}
	f.observers[region.ID] = observer
}

func (f *Fake) SetDownloadState(region *model.Region, state model.DownloadState) error {
	f.mu.Lock()
	if f.StateErr != nil {
		f.mu.Unlock()
		return f.StateErr
	}
	f.states[region.ID] = state
	f.mu.Unlock()

	if state == model.StateActive {
		f.activated <- region
	}
	return nil
}

func (f *Fake) DeleteRegion(_ context.Context, region *model.Region) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	for i, r := range f.regions {
		if r.ID == region.ID {
			f.regions = append(f.regions[:i], f.regions[i+1:]...)
			delete(f.observers, region.ID)
			delete(f.states, region.ID)
			return nil
		}
	}
	return store.ErrRegionNotFound
}

// Activated delivers each region switched to the active state.
func (f *Fake) Activated() <-chan *model.Region {
	return f.activated
}

// CreateCalls returns how many times CreateRegion was called.
func (f *Fake) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// ListCalls returns how many times ListRegions was called.
func (f *Fake) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// Regions returns the stored regions in id order.
func (f *Fake) Regions() []*model.Region {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Region(nil), f.regions...)
}

// Observed reports whether region currently has an observer.
func (f *Fake) Observed(region *model.Region) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.observers[region.ID]
	return ok
}

// State returns the region's download state.
func (f *Fake) State(region *model.Region) model.DownloadState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[region.ID]
}

// Emit reports a status to the region's observer, if any.
func (f *Fake) Emit(region *model.Region, status model.Status) {
	if obs := f.observer(region); obs != nil {
		obs.OnStatusChanged(status)
	}
}

// Progress emits a precise status with completed of required resources.
func (f *Fake) Progress(region *model.Region, completed, required int64) {
	f.Emit(region, model.Status{
		CompletedResourceCount:       completed,
		RequiredResourceCount:        required,
		RequiredResourceCountPrecise: true,
		Complete:                     completed >= required,
		DownloadState:                model.StateActive,
	})
}

// Fail reports a fetch error to the region's observer.
func (f *Fake) Fail(region *model.Region, err model.RegionError) {
	if obs := f.observer(region); obs != nil {
		obs.OnError(err)
	}
}

// LimitExceeded reports a tile count limit to the region's observer.
func (f *Fake) LimitExceeded(region *model.Region, limit int64) {
	if obs := f.observer(region); obs != nil {
		obs.OnTileCountLimitExceeded(limit)
	}
}

func (f *Fake) observer(region *model.Region) store.Observer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observers[region.ID]
}

var _ store.Store = (*Fake)(nil)
