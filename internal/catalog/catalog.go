// Package catalog reads the set of regions currently held by a Region Store.
//
// The orchestrator uses it to detect duplicate region names before creating
// a region; list and delete UIs use it to show what is stored.
//
//	reader := catalog.NewReader(st, logger)
//	regions, err := reader.ListAll(ctx)
//	var fetchErr *model.RegionsFetchFailure
//	if errors.As(err, &fetchErr) {
//	    // the store could not list its regions
//	}
package catalog

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/handiism/offline-regions/internal/metadata"
	"github.com/handiism/offline-regions/internal/model"
)

// Lister is the part of store.Store the catalog needs.
type Lister interface {
	ListRegions(ctx context.Context) ([]*model.Region, error)
}

// Reader lists stored regions. Concurrent ListAll calls share one store
// round trip.
type Reader struct {
	store Lister
	group singleflight.Group
	log   zerolog.Logger
}

// NewReader creates a Reader over store.
func NewReader(store Lister, log zerolog.Logger) *Reader {
	return &Reader{store: store, log: log.With().Str("component", "catalog").Logger()}
}

// ListAll returns every stored region. An empty store yields an empty,
// non-nil slice. Store errors, and ctx ending before the listing does, are
// returned as *model.RegionsFetchFailure.
func (r *Reader) ListAll(ctx context.Context) ([]*model.Region, error) {
	// The shared listing outlives any one caller; each caller stops waiting
	// when its own ctx is done.
	ch := r.group.DoChan("list", func() (interface{}, error) {
		return r.store.ListRegions(context.WithoutCancel(ctx))
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, &model.RegionsFetchFailure{Message: ctx.Err().Error()}
	case res = <-ch:
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		r.log.Error().Err(err).Msg("listing regions failed")
		return nil, &model.RegionsFetchFailure{Message: err.Error()}
	}
	regions, _ := v.([]*model.Region)
	r.log.Debug().Int("count", len(regions)).Bool("shared", shared).Msg("listed regions")

	out := make([]*model.Region, len(regions))
	copy(out, regions)
	return out, nil
}

// FindByName returns the first stored region whose decoded name equals name
// (case-sensitive). Regions with undecodable metadata never match.
func (r *Reader) FindByName(ctx context.Context, name string) (*model.Region, bool, error) {
	regions, err := r.ListAll(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, region := range regions {
		existing, err := metadata.Decode(region.Metadata)
		if err != nil {
			r.log.Warn().Int64("region_id", region.ID).Err(err).Msg("skipping region with unreadable metadata")
			continue
		}
		if existing == name {
			return region, true, nil
		}
	}
	return nil, false, nil
}

// Entry pairs a stored region with its display name.
type Entry struct {
	Name   string
	Region *model.Region
}

// Entries lists regions with their display names, falling back to an
// id-derived name for unreadable metadata.
func (r *Reader) Entries(ctx context.Context) ([]Entry, error) {
	regions, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(regions))
	for _, region := range regions {
		entries = append(entries, Entry{Name: metadata.RegionName(region), Region: region})
	}
	return entries, nil
}
