package app

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets

	"github.com/handiism/offline-regions/internal/catalog"
	"github.com/handiism/offline-regions/internal/config"
	"github.com/handiism/offline-regions/internal/download"
	"github.com/handiism/offline-regions/internal/store/blobstore"
)

// App holds the wired components.
type App struct {
	Settings     *config.Settings
	Store        *blobstore.Store
	Catalog      *catalog.Reader
	Orchestrator *download.Orchestrator
	Deleter      *download.Deleter

	bucket *blob.Bucket
	log    zerolog.Logger
}

// Open opens the bucket named by settings.StoreURL and builds the
// components on top of it.
func Open(ctx context.Context, settings *config.Settings, logger zerolog.Logger) (*App, error) {
	if err := ensureFileBucket(settings.StoreURL); err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, settings.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", settings.StoreURL, err)
	}

	st, err := blobstore.Open(ctx, bucket, settings.ToStoreOptions(logger))
	if err != nil {
		bucket.Close()
		return nil, err
	}

	orch := download.NewOrchestrator(st, download.Options{
		StallTimeout: settings.StallTimeout(),
		Logger:       logger,
	})

	logger.Debug().Str("store", settings.StoreURL).Msg("app opened")

	return &App{
		Settings:     settings,
		Store:        st,
		Catalog:      orch.Catalog(),
		Orchestrator: orch,
		Deleter:      download.NewDeleter(st, logger),
		bucket:       bucket,
		log:          logger,
	}, nil
}

// Close releases the bucket.
func (a *App) Close() error {
	return a.bucket.Close()
}

// ensureFileBucket creates the directory behind a file:// bucket URL.
func ensureFileBucket(storeURL string) error {
	u, err := url.Parse(storeURL)
	if err != nil {
		return fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme != "file" {
		return nil
	}
	return os.MkdirAll(filepath.FromSlash(u.Path), 0755)
}
