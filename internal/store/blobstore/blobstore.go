package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/offline-regions/internal/http"
	ioutils "github.com/handiism/offline-regions/internal/io"
	"github.com/handiism/offline-regions/internal/model"
	"github.com/handiism/offline-regions/internal/store"
)

const (
	regionPrefix = "regions/"
	tilePrefix   = "tiles/"
)

// ErrTileNotCached is returned by Tile for tiles that were never stored.
var ErrTileNotCached = errors.New("blobstore: tile not cached")

// Fetcher downloads a single tile. *http.Client satisfies it.
type Fetcher interface {
	FetchTile(ctx context.Context, template string, tile maptile.Tile, pixelRatio float32) ([]byte, error)
}

// Options configures a Store. Zero values select the defaults.
type Options struct {
	// TileLimit caps the tiles fetched per region. Zero means unlimited.
	TileLimit int64

	// Workers bounds concurrent tile fetches. Defaults to 8.
	Workers int

	// MaxRetries is the number of extra attempts per tile. Defaults to 3.
	MaxRetries int

	// RetryCooldown (seconds) and RetryExponent shape the wait before
	// retry n: RetryCooldown * RetryExponent^n.
	RetryCooldown float64
	RetryExponent float64

	// NormalizeRaster rescales raster tiles to the region's pixel ratio.
	NormalizeRaster bool

	// Fetcher defaults to a new http.Client.
	Fetcher Fetcher

	Logger zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryCooldown <= 0 {
		o.RetryCooldown = 0.2
	}
	if o.RetryExponent <= 0 {
		o.RetryExponent = 4.0
	}
	if o.Fetcher == nil {
		o.Fetcher = http.NewClient()
	}
}

// Store caches offline regions in a blob bucket.
type Store struct {
	bucket *blob.Bucket
	opts   Options
	log    zerolog.Logger
	images *ioutils.ImageService

	mu        sync.Mutex
	nextID    int64
	observers map[int64]store.Observer
	fetches   map[int64]*fetch

	// notifyMu serializes observer callbacks.
	notifyMu sync.Mutex
}

// fetch is one background download of a region.
type fetch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// record is the persisted form of a region.
type record struct {
	ID         int64            `json:"id"`
	Definition model.Definition `json:"definition"`
	Metadata   []byte           `json:"metadata"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Open returns a Store over bucket. Existing region records are scanned so
// new ids continue after the highest stored one.
func Open(ctx context.Context, bucket *blob.Bucket, opts Options) (*Store, error) {
	opts.setDefaults()
	s := &Store{
		bucket:    bucket,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "blobstore").Logger(),
		images:    ioutils.NewImageService(),
		nextID:    1,
		observers: make(map[int64]store.Observer),
		fetches:   make(map[int64]*fetch),
	}

	regions, err := s.ListRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan regions: %w", err)
	}
	for _, r := range regions {
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}
	s.log.Debug().Int("regions", len(regions)).Int64("next_id", s.nextID).Msg("store opened")

	return s, nil
}

func regionKey(id int64) string {
	return regionPrefix + strconv.FormatInt(id, 10) + ".json"
}

func tileDir(id int64) string {
	return tilePrefix + strconv.FormatInt(id, 10) + "/"
}

func tileKey(id int64, t maptile.Tile) string {
	return tileDir(id) + tileName(t)
}

func tileName(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// CreateRegion validates def and persists a new region record.
func (s *Store) CreateRegion(ctx context.Context, def model.Definition, metadata []byte) (*model.Region, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	rec := record{ID: id, Definition: def, Metadata: metadata, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.bucket.WriteAll(ctx, regionKey(id), data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return nil, fmt.Errorf("write region record: %w", err)
	}

	s.log.Debug().Int64("region_id", id).Msg("region record written")
	return &model.Region{ID: id, Definition: def, Metadata: metadata}, nil
}

// ListRegions returns all stored regions ordered by id.
func (s *Store) ListRegions(ctx context.Context) ([]*model.Region, error) {
	regions := []*model.Region{}

	iter := s.bucket.List(&blob.ListOptions{Prefix: regionPrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ".json") {
			continue
		}

		data, err := s.bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", obj.Key, err)
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn().Str("key", obj.Key).Err(err).Msg("skipping corrupt region record")
			continue
		}
		regions = append(regions, &model.Region{ID: rec.ID, Definition: rec.Definition, Metadata: rec.Metadata})
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	return regions, nil
}

// SetObserver replaces the observer of region. nil detaches.
func (s *Store) SetObserver(region *model.Region, observer store.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if observer == nil {
		delete(s.observers, region.ID)
		return
	}
	s.observers[region.ID] = observer
}

// SetDownloadState starts or pauses the background fetch of region.
// Activating an already active region is a no-op.
func (s *Store) SetDownloadState(region *model.Region, state model.DownloadState) error {
	exists, err := s.bucket.Exists(context.Background(), regionKey(region.ID))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", store.ErrRegionNotFound, region.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.fetches[region.ID]
	switch state {
	case model.StateActive:
		if current != nil {
			return nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		f := &fetch{cancel: cancel, done: make(chan struct{})}
		s.fetches[region.ID] = f
		go s.download(ctx, region, f)
		s.log.Info().Int64("region_id", region.ID).Msg("region activated")
	default:
		if current != nil {
			current.cancel()
			delete(s.fetches, region.ID)
			s.log.Info().Int64("region_id", region.ID).Msg("region paused")
		}
	}
	return nil
}

// DeleteRegion stops any fetch of region and removes its tiles and record.
func (s *Store) DeleteRegion(ctx context.Context, region *model.Region) error {
	exists, err := s.bucket.Exists(ctx, regionKey(region.ID))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", store.ErrRegionNotFound, region.ID)
	}

	s.mu.Lock()
	f := s.fetches[region.ID]
	delete(s.fetches, region.ID)
	delete(s.observers, region.ID)
	s.mu.Unlock()

	if f != nil {
		f.cancel()
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	removed := 0
	iter := s.bucket.List(&blob.ListOptions{Prefix: tileDir(region.ID)})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("delete %s: %w", obj.Key, err)
		}
		removed++
	}

	if err := s.bucket.Delete(ctx, regionKey(region.ID)); err != nil {
		return fmt.Errorf("delete region record: %w", err)
	}

	s.log.Info().Int64("region_id", region.ID).Int("tiles", removed).Msg("region deleted")
	return nil
}

// Tile returns a cached tile of region.
func (s *Store) Tile(ctx context.Context, region *model.Region, tile maptile.Tile) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, tileKey(region.ID, tile))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrTileNotCached, tileName(tile))
	}
	return data, err
}

// notify calls fn with the current observer of the region, if any.
func (s *Store) notify(id int64, fn func(store.Observer)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	obs := s.observers[id]
	s.mu.Unlock()

	if obs != nil {
		fn(obs)
	}
}

// progress tracks the status of one fetch.
type progress struct {
	mu     sync.Mutex
	status model.Status
}

func (s *Store) download(ctx context.Context, region *model.Region, f *fetch) {
	defer close(f.done)
	defer f.cancel()
	defer func() {
		s.mu.Lock()
		if s.fetches[region.ID] == f {
			delete(s.fetches, region.ID)
		}
		s.mu.Unlock()
	}()

	log := s.log.With().Int64("region_id", region.ID).Logger()
	def := region.Definition

	required := def.TileCount()
	limit := s.opts.TileLimit
	if limit > 0 && required > limit {
		log.Warn().Int64("tiles", required).Int64("limit", limit).Msg("tile count limit exceeded")
		s.notify(region.ID, func(o store.Observer) { o.OnTileCountLimitExceeded(limit) })
		required = limit
	}

	p := &progress{status: model.Status{
		RequiredResourceCount:        required,
		RequiredResourceCountPrecise: true,
		DownloadState:                model.StateActive,
	}}
	log.Info().Int64("tiles", required).Msg("fetching region")
	s.report(region.ID, p, 0, 0)

	// Tiles are enumerated lazily; g.Go blocks once Workers are busy.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for t := range def.TileSeq(limit) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			key := tileKey(region.ID, t)
			if attrs, err := s.bucket.Attributes(gctx, key); err == nil {
				s.report(region.ID, p, 1, attrs.Size)
				return nil
			}
			data, err := s.fetchTile(gctx, def, t)
			if err != nil {
				return fmt.Errorf("tile %s: %w", tileName(t), err)
			}
			if err := s.bucket.WriteAll(gctx, key, data, nil); err != nil {
				return fmt.Errorf("store tile %s: %w", tileName(t), err)
			}
			s.report(region.ID, p, 1, int64(len(data)))
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		log.Debug().Msg("fetch paused")
		return
	}
	if err != nil {
		regionErr := Classify(err)
		log.Error().Err(err).Stringer("reason", regionErr.Reason).Msg("region fetch failed")
		s.notify(region.ID, func(o store.Observer) { o.OnError(regionErr) })
		return
	}

	p.mu.Lock()
	p.status.Complete = true
	p.status.DownloadState = model.StateInactive
	final := p.status
	p.mu.Unlock()

	log.Info().Int64("tiles", final.CompletedResourceCount).Int64("bytes", final.CompletedResourceSize).Msg("region complete")
	s.notify(region.ID, func(o store.Observer) { o.OnStatusChanged(final) })
}

// report adds one stored tile to p and notifies the observer. The status
// snapshot is taken under p.mu so observers see a non-decreasing count.
func (s *Store) report(id int64, p *progress, tiles, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.CompletedResourceCount += tiles
	p.status.CompletedResourceSize += bytes
	status := p.status
	s.notify(id, func(o store.Observer) { o.OnStatusChanged(status) })
}

func (s *Store) fetchTile(ctx context.Context, def model.Definition, t maptile.Tile) ([]byte, error) {
	var data []byte
	var err error

	for tries := 0; tries <= s.opts.MaxRetries; tries++ {
		data, err = s.opts.Fetcher.FetchTile(ctx, def.StyleURL, t, def.PixelRatio)
		if err == nil {
			break
		}
		if ctx.Err() != nil || !retryable(err) {
			return nil, err
		}
		if tries < s.opts.MaxRetries {
			s.log.Debug().Str("tile", tileName(t)).Int("try", tries+1).Err(err).Msg("retrying tile")
			s.waitForRetry(ctx, tries)
		}
	}
	if err != nil {
		return nil, err
	}

	if s.opts.NormalizeRaster {
		data, err = s.images.ScaleTile(ctx, data, ioutils.TileSize(def.PixelRatio))
		if err != nil {
			return nil, fmt.Errorf("normalize tile: %w", err)
		}
	}
	return data, nil
}

func (s *Store) waitForRetry(ctx context.Context, tries int) {
	cooldown := s.opts.RetryCooldown * math.Pow(s.opts.RetryExponent, float64(tries))
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(cooldown * float64(time.Second))):
	}
}

// retryable reports whether a failed fetch is worth another attempt.
func retryable(err error) bool {
	var se *http.StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	return true
}

// Classify maps a fetch error onto a RegionError.
func Classify(err error) model.RegionError {
	reason := model.ReasonOther

	var se *http.StatusError
	var ne net.Error
	switch {
	case errors.As(err, &se) && se.Code == 404:
		reason = model.ReasonNotFound
	case errors.As(err, &se) && se.Code >= 500:
		reason = model.ReasonServer
	case errors.As(err, &ne):
		reason = model.ReasonConnection
	}

	return model.RegionError{Reason: reason, Message: err.Error()}
}

var _ store.Store = (*Store)(nil)
