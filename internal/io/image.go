package ioutils

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // JPEG decoder registration
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// BaseTileSize is the edge length of a tile at pixel ratio 1.
const BaseTileSize = 256

// TileSize returns the tile edge length for a device pixel ratio.
func TileSize(pixelRatio float32) int {
	if pixelRatio <= 0 {
		return BaseTileSize
	}
	return int(math.Round(float64(BaseTileSize) * float64(pixelRatio)))
}

// ImageService provides image processing operations for raster tiles.
type ImageService struct{}

// NewImageService creates a new ImageService.
func NewImageService() *ImageService {
	return &ImageService{}
}

// ScaleTile resizes a square raster tile to size x size pixels and returns
// it PNG-encoded.
//
// Tiles already at the requested size and payloads that do not decode as
// an image are returned unchanged. The Catmull-Rom kernel is used for
// scaling.
//
// Parameters:
//   - ctx: Context for cancellation (currently unused)
//   - data: Tile bytes (PNG, JPEG, or anything else)
//   - size: Target edge length in pixels
func (s *ImageService) ScaleTile(ctx context.Context, data []byte, size int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, nil
	}

	bounds := img.Bounds()
	if bounds.Dx() == size && bounds.Dy() == size {
		return data, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
