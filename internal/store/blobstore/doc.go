// Package blobstore implements store.Store on top of a gocloud.dev bucket.
//
// # Layout
//
// Region records and tiles share one bucket:
//
//	regions/<id>.json         definition and metadata of a region
//	tiles/<id>/<z>/<x>/<y>    cached tile payloads
//
// Any bucket URL gocloud.dev understands works. The binaries register the
// file:// and mem:// drivers:
//
//	bucket, _ := blob.OpenBucket(ctx, "file:///var/cache/offline-regions")
//	st, err := blobstore.Open(ctx, bucket, blobstore.Options{TileLimit: 6000})
//
// # Downloads
//
// Activating a region starts a background fetch of its tile pyramid.
// Tiles run through a bounded worker group and are retried with an
// exponential cooldown. Tiles already in the bucket are counted without
// being fetched again, so deactivating and re-activating a region resumes
// where it stopped.
package blobstore
