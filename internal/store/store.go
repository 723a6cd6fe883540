// Package store defines the boundary of a Region Store: the capability that
// physically fetches and persists map tiles for offline regions.
//
// Everything above this package treats the store as opaque. A store creates
// regions from a definition plus a metadata blob, lists them, reports the
// download status of one region at a time to a single observer, switches a
// region between active and inactive, and deletes regions. It has no notion
// of cancelling a fetch beyond making the region inactive.
//
// Two implementations live below this package: blobstore, which caches
// tiles in a gocloud.dev bucket, and storetest, a scriptable fake.
package store

import (
	"context"
	"errors"

	"github.com/handiism/offline-regions/internal/model"
)

// ErrRegionNotFound is returned for operations on unknown regions.
var ErrRegionNotFound = errors.New("store: region not found")

// Observer receives download callbacks for one region. Calls for a region
// are serialized.
type Observer interface {
	OnStatusChanged(status model.Status)
	OnError(err model.RegionError)
	OnTileCountLimitExceeded(limit int64)
}

// Store is the Region Store boundary.
type Store interface {
	// CreateRegion stores a new region. It does not start downloading.
	CreateRegion(ctx context.Context, def model.Definition, metadata []byte) (*model.Region, error)

	// ListRegions returns every stored region. An empty store yields an
	// empty slice.
	ListRegions(ctx context.Context) ([]*model.Region, error)

	// SetObserver replaces the region's observer. A nil observer detaches.
	SetObserver(region *model.Region, observer Observer)

	// SetDownloadState starts (active) or pauses (inactive) fetching.
	SetDownloadState(region *model.Region, state model.DownloadState) error

	// DeleteRegion removes the region and its cached tiles.
	DeleteRegion(ctx context.Context, region *model.Region) error
}
