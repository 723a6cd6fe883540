package download

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/offline-regions/internal/metadata"
	"github.com/handiism/offline-regions/internal/model"
	"github.com/handiism/offline-regions/internal/store"
	"github.com/handiism/offline-regions/internal/store/storetest"
)

func TestDeleter_Execute(t *testing.T) {
	fake := storetest.New()
	meta, _ := metadata.Encode("Paris")
	region := fake.Seed(parisDef, meta)
	d := NewDeleter(fake, zerolog.Nop())

	require.NoError(t, d.Execute(context.Background(), region))

	regions, err := fake.ListRegions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestDeleter_ExecuteFailure(t *testing.T) {
	fake := storetest.New()
	region := fake.Seed(parisDef, nil)
	fake.DeleteErr = errors.New("region is locked")
	d := NewDeleter(fake, zerolog.Nop())

	err := d.Execute(context.Background(), region)

	var failure *model.DeleteRegionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "region is locked", failure.Message)
}

func TestDeleter_DeleteByName(t *testing.T) {
	fake := storetest.New()
	meta, _ := metadata.Encode("Paris")
	fake.Seed(parisDef, meta)
	d := NewDeleter(fake, zerolog.Nop())

	assert.ErrorIs(t, d.DeleteByName(context.Background(), "Lyon"), store.ErrRegionNotFound)
	require.NoError(t, d.DeleteByName(context.Background(), "Paris"))
	assert.ErrorIs(t, d.DeleteByName(context.Background(), "Paris"), store.ErrRegionNotFound)
}
