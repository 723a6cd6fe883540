package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/handiism/offline-regions/internal/catalog"
	"github.com/handiism/offline-regions/internal/clock"
	"github.com/handiism/offline-regions/internal/metadata"
	"github.com/handiism/offline-regions/internal/model"
	"github.com/handiism/offline-regions/internal/store"
)

// DefaultStallTimeout is how long progress may stand still before a
// download is reported as timed out.
const DefaultStallTimeout = 30 * time.Second

// Options configures an Orchestrator.
type Options struct {
	// StallTimeout defaults to DefaultStallTimeout.
	StallTimeout time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock

	Logger zerolog.Logger
}

// Orchestrator drives one offline region download at a time and publishes
// its lifecycle on a shared Stream.
type Orchestrator struct {
	store   store.Store
	catalog *catalog.Reader
	clock   clock.Clock
	stall   time.Duration
	log     zerolog.Logger
	stream  *Stream

	// mu serializes every write to the fields below and every Publish, so
	// store callbacks and the watchdog act as a single writer.
	mu            sync.Mutex
	run           *run
	lastPercent   int
	lastPercentAt time.Time
}

// run is the state of one Execute call.
type run struct {
	ctx      context.Context
	name     string
	region   *model.Region
	watchdog clock.Timer
	stopCtx  func() bool
	finished bool
}

// NewOrchestrator creates an Orchestrator over st. Its stream starts Idle.
func NewOrchestrator(st store.Store, opts Options) *Orchestrator {
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	log := opts.Logger.With().Str("component", "orchestrator").Logger()

	return &Orchestrator{
		store:   st,
		catalog: catalog.NewReader(st, opts.Logger),
		clock:   opts.Clock,
		stall:   opts.StallTimeout,
		log:     log,
		stream:  NewStream(model.Idle{}),
	}
}

// Catalog returns the reader used for duplicate detection.
func (o *Orchestrator) Catalog() *catalog.Reader {
	return o.catalog
}

// IsRunning reports whether a download started by Execute has not yet
// reached a terminal event. Callers should attach to the stream instead of
// calling Execute again while it returns true.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run != nil
}

// Subscribe attaches to the shared event stream. The first event delivered
// is the stream's current value.
func (o *Orchestrator) Subscribe() *Subscription {
	return o.stream.Subscribe()
}

// Last returns the most recently published event.
func (o *Orchestrator) Last() model.DownloadEvent {
	return o.stream.Last()
}

// RegionName returns the stored name of region, or an id-derived name when
// its metadata is unreadable.
func (o *Orchestrator) RegionName(region *model.Region) string {
	return metadata.RegionName(region)
}

// Execute starts downloading def under name and returns immediately. The
// outcome is published on the stream: Downloading events, then exactly one
// Done or Failed.
//
// Cancelling ctx abandons the run: later store callbacks are dropped and
// nothing more is published. The store has no way to abort a fetch, so the
// tiles keep downloading in the background.
func (o *Orchestrator) Execute(ctx context.Context, name string, def model.Definition) {
	r := &run{ctx: ctx, name: name}

	o.mu.Lock()
	if prev := o.run; prev != nil {
		o.log.Warn().Str("region", prev.name).Str("next", name).Msg("execute called while a download is running, dropping previous run")
		o.finishLocked(prev)
	}
	o.run = r
	o.lastPercent = 0
	o.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { o.abandon(r) })
	o.mu.Lock()
	r.stopCtx = stop
	o.mu.Unlock()

	go o.pipeline(r, def)
}

func (o *Orchestrator) pipeline(r *run, def model.Definition) {
	defer func() {
		if p := recover(); p != nil {
			o.fail(r, &model.UnrecognizedError{Err: fmt.Errorf("panic: %v", p)})
		}
	}()

	log := o.log.With().Str("region", r.name).Logger()

	meta, err := metadata.Encode(r.name)
	if err != nil {
		o.fail(r, &model.MetadataError{Err: err})
		return
	}

	existing, found, err := o.catalog.FindByName(r.ctx, r.name)
	if err != nil {
		var fetchErr *model.RegionsFetchFailure
		if errors.As(err, &fetchErr) {
			o.fail(r, fetchErr)
		} else {
			o.fail(r, &model.UnrecognizedError{Err: err})
		}
		return
	}
	if found {
		log.Info().Int64("region_id", existing.ID).Msg("region name already taken")
		o.fail(r, &model.RegionNameExists{Name: r.name, Region: existing})
		return
	}

	if !o.accepts(r) {
		return
	}
	region, err := o.store.CreateRegion(r.ctx, def, meta)
	if err != nil {
		o.fail(r, &model.CreateRegionError{Message: err.Error()})
		return
	}
	if region == nil {
		o.fail(r, &model.UnrecognizedError{Err: errors.New("store created no region")})
		return
	}
	log.Info().Int64("region_id", region.ID).Int64("tiles", def.TileCount()).Msg("offline region created")

	o.mu.Lock()
	if !o.acceptsLocked(r) {
		o.mu.Unlock()
		o.discard(region, log)
		return
	}
	r.region = region
	o.lastPercentAt = o.clock.Now()
	r.watchdog = o.clock.AfterFunc(o.stall, func() { o.checkStall(r) })
	o.mu.Unlock()

	o.store.SetObserver(region, &observer{o: o, r: r})
	if err := o.store.SetDownloadState(region, model.StateActive); err != nil {
		o.fail(r, &model.UnrecognizedError{Err: fmt.Errorf("activate region: %w", err)})
	}
}

func (o *Orchestrator) accepts(r *run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acceptsLocked(r)
}

// discard deletes a region created by a run that was superseded or abandoned
// while CreateRegion was in flight. It is never activated, and keeping it
// would make its name look taken.
func (o *Orchestrator) discard(region *model.Region, log zerolog.Logger) {
	if err := o.store.DeleteRegion(context.Background(), region); err != nil {
		log.Error().Int64("region_id", region.ID).Err(err).Msg("could not delete region of dropped run")
		return
	}
	log.Info().Int64("region_id", region.ID).Msg("deleted region of dropped run")
}

// acceptsLocked reports whether events for r may still be published.
func (o *Orchestrator) acceptsLocked(r *run) bool {
	return o.run == r && !r.finished && r.ctx.Err() == nil
}

// finishLocked ends r and resets progress tracking. The observer is
// detached on another goroutine so store locks are never taken under o.mu.
func (o *Orchestrator) finishLocked(r *run) {
	r.finished = true
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	if r.stopCtx != nil {
		r.stopCtx()
	}
	if o.run == r {
		o.run = nil
		o.lastPercent = 0
	}
	if region := r.region; region != nil {
		go o.store.SetObserver(region, nil)
	}
}

// terminate publishes ev as the final event of r. It reports false when r
// was already finished or abandoned.
func (o *Orchestrator) terminate(r *run, ev model.DownloadEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.acceptsLocked(r) {
		return false
	}
	o.stream.Publish(ev)
	o.finishLocked(r)
	return true
}

func (o *Orchestrator) fail(r *run, cause model.Failure) {
	if o.terminate(r, model.Failed{RegionName: r.name, Cause: cause}) {
		o.log.Error().Str("region", r.name).Err(cause).Msg("offline region download failed")
	}
}

// abandon drops r without publishing anything.
func (o *Orchestrator) abandon(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != r || r.finished {
		return
	}
	o.log.Info().Str("region", r.name).Msg("download abandoned by caller, store keeps fetching")
	o.finishLocked(r)
}

func (o *Orchestrator) onStatus(r *run, status model.Status) {
	if status.Complete {
		if o.terminate(r, model.Done{RegionName: r.name, CompletedAt: o.clock.Now()}) {
			o.log.Info().Str("region", r.name).Int64("resources", status.CompletedResourceCount).Msg("offline region download complete")
		}
		return
	}

	o.log.Debug().
		Str("region", r.name).
		Int64("completed", status.CompletedResourceCount).
		Int64("required", status.RequiredResourceCount).
		Int64("bytes", status.CompletedResourceSize).
		Msg("status changed")

	percent, ok := status.Percent()
	if !ok {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.acceptsLocked(r) || percent <= o.lastPercent {
		return
	}
	o.lastPercent = percent
	o.lastPercentAt = o.clock.Now()
	o.stream.Publish(model.Downloading{RegionName: r.name, Percent: percent})
}

// checkStall runs when the watchdog fires. It re-arms itself for the
// remaining time if progress moved since it was scheduled.
func (o *Orchestrator) checkStall(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.acceptsLocked(r) {
		return
	}
	idle := o.clock.Now().Sub(o.lastPercentAt)
	if idle < o.stall {
		r.watchdog = o.clock.AfterFunc(o.stall-idle, func() { o.checkStall(r) })
		return
	}

	o.log.Error().Str("region", r.name).Dur("idle", idle).Msg("offline region download stalled")
	o.stream.Publish(model.Failed{RegionName: r.name, Cause: &model.Timeout{After: o.stall}})
	o.finishLocked(r)
}

// observer adapts store callbacks for one run.
type observer struct {
	o *Orchestrator
	r *run
}

func (ob *observer) OnStatusChanged(status model.Status) {
	defer ob.recoverPanic()
	ob.o.onStatus(ob.r, status)
}

func (ob *observer) OnError(err model.RegionError) {
	defer ob.recoverPanic()
	ob.o.fail(ob.r, &err)
}

func (ob *observer) OnTileCountLimitExceeded(limit int64) {
	defer ob.recoverPanic()
	ob.o.log.Warn().Str("region", ob.r.name).Int64("limit", limit).Msg("tile count limit exceeded")

	ob.o.mu.Lock()
	defer ob.o.mu.Unlock()
	if ob.o.acceptsLocked(ob.r) {
		ob.o.stream.Publish(model.TileCountLimitExceeded{Limit: limit})
	}
}

func (ob *observer) recoverPanic() {
	if p := recover(); p != nil {
		ob.o.fail(ob.r, &model.UnrecognizedError{Err: fmt.Errorf("panic in store callback: %v", p)})
	}
}
