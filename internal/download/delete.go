package download

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/handiism/offline-regions/internal/catalog"
	"github.com/handiism/offline-regions/internal/model"
	"github.com/handiism/offline-regions/internal/store"
)

// Deleter removes stored regions. Each call makes a single attempt.
type Deleter struct {
	store   store.Store
	catalog *catalog.Reader
	log     zerolog.Logger
}

// NewDeleter creates a Deleter over st.
func NewDeleter(st store.Store, log zerolog.Logger) *Deleter {
	return &Deleter{
		store:   st,
		catalog: catalog.NewReader(st, log),
		log:     log.With().Str("component", "deleter").Logger(),
	}
}

// Execute deletes region. Store failures are returned as
// *model.DeleteRegionFailure.
func (d *Deleter) Execute(ctx context.Context, region *model.Region) error {
	if err := d.store.DeleteRegion(ctx, region); err != nil {
		d.log.Error().Int64("region_id", region.ID).Err(err).Msg("delete failed")
		return &model.DeleteRegionFailure{Message: err.Error()}
	}
	d.log.Info().Int64("region_id", region.ID).Msg("region deleted")
	return nil
}

// DeleteByName deletes the region stored under name.
func (d *Deleter) DeleteByName(ctx context.Context, name string) error {
	region, found, err := d.catalog.FindByName(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("region %q: %w", name, store.ErrRegionNotFound)
	}
	return d.Execute(ctx, region)
}
