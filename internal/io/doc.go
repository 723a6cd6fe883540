// Package ioutils provides image processing for cached raster tiles.
//
// # Image Processing
//
// The ImageService scales raster tiles to the size a device expects for
// its pixel ratio, so a region downloaded from a 256px tile server renders
// crisply on a 2x screen:
//
//	svc := ioutils.NewImageService()
//	scaled, err := svc.ScaleTile(ctx, pngData, ioutils.TileSize(2)) // 512x512 PNG
//
// Payloads that are not decodable images (vector tiles, for example) are
// returned unchanged.
package ioutils
