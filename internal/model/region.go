package model

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxMercatorLatitude is the latitude at which the Web Mercator tile grid ends.
const MaxMercatorLatitude = 85.05112878

// MaxZoomLevel is the deepest zoom a tile pyramid may reach.
const MaxZoomLevel = 22

// UKBounds covers Great Britain, Ireland and the northern French coast.
var UKBounds = orb.Bound{
	Min: orb.Point{-7.555904, 49.766133},
	Max: orb.Point{3.633984, 61.464083},
}

// Definition describes a tile pyramid to cache for offline use.
//
// A Definition is an immutable value. It is produced by whatever owns the map
// viewport (a UI, a CLI flag set, a JSON file) and handed verbatim to the
// Region Store when the region is created.
//
// Example:
//
//	def := model.NewDefinition("https://tiles.example.com/{z}/{x}/{y}.png",
//	    model.UKBounds, 5, 8, 1)
//	fmt.Println(def.TileCount()) // tiles across zooms 5..8
type Definition struct {
	// StyleURL references the map style (or tile URL template) to cache.
	StyleURL string `json:"style_url" toml:"style_url"`

	// Bounding box in degrees.
	North float64 `json:"north" toml:"north"`
	East  float64 `json:"east" toml:"east"`
	South float64 `json:"south" toml:"south"`
	West  float64 `json:"west" toml:"west"`

	// MinZoom and MaxZoom bound the pyramid. Fractional zooms are widened
	// to the enclosing integer levels.
	MinZoom float64 `json:"min_zoom" toml:"min_zoom"`
	MaxZoom float64 `json:"max_zoom" toml:"max_zoom"`

	// PixelRatio is the device pixel density tiles are requested for.
	PixelRatio float32 `json:"pixel_ratio" toml:"pixel_ratio"`
}

// NewDefinition builds a Definition from an orb bounding box.
func NewDefinition(styleURL string, bounds orb.Bound, minZoom, maxZoom float64, pixelRatio float32) Definition {
	return Definition{
		StyleURL:   styleURL,
		North:      bounds.Top(),
		East:       bounds.Right(),
		South:      bounds.Bottom(),
		West:       bounds.Left(),
		MinZoom:    minZoom,
		MaxZoom:    maxZoom,
		PixelRatio: pixelRatio,
	}
}

// ErrInvalidDefinition is wrapped by every error returned from Validate.
var ErrInvalidDefinition = errors.New("invalid region definition")

// Validate checks that the definition describes a non-empty pyramid.
func (d Definition) Validate() error {
	switch {
	case d.StyleURL == "":
		return fmt.Errorf("%w: style url is empty", ErrInvalidDefinition)
	case d.South < -90 || d.North > 90:
		return fmt.Errorf("%w: latitude out of range", ErrInvalidDefinition)
	case d.West < -180 || d.East > 180:
		return fmt.Errorf("%w: longitude out of range", ErrInvalidDefinition)
	case d.North <= d.South || d.East <= d.West:
		return fmt.Errorf("%w: empty bounding box", ErrInvalidDefinition)
	case d.MinZoom < 0 || d.MaxZoom > MaxZoomLevel || d.MaxZoom < d.MinZoom:
		return fmt.Errorf("%w: zoom range %g..%g", ErrInvalidDefinition, d.MinZoom, d.MaxZoom)
	case d.PixelRatio <= 0:
		return fmt.Errorf("%w: pixel ratio must be positive", ErrInvalidDefinition)
	}
	return nil
}

// Bound returns the bounding box as an orb.Bound.
func (d Definition) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{d.West, d.South},
		Max: orb.Point{d.East, d.North},
	}
}

// ZoomRange returns the integer zoom levels covered by the pyramid.
func (d Definition) ZoomRange() (minZoom, maxZoom maptile.Zoom) {
	lo := math.Max(0, math.Floor(d.MinZoom))
	hi := math.Min(MaxZoomLevel, math.Ceil(d.MaxZoom))
	return maptile.Zoom(lo), maptile.Zoom(hi)
}

// tileRange returns the inclusive tile rectangle covering the box at zoom z.
func (d Definition) tileRange(z maptile.Zoom) (minTile, maxTile maptile.Tile) {
	nw := clampPoint(orb.Point{d.West, d.North})
	se := clampPoint(orb.Point{d.East, d.South})
	return maptile.At(nw, z), maptile.At(se, z)
}

// TileCount returns how many tiles the pyramid holds.
func (d Definition) TileCount() int64 {
	var total int64
	lo, hi := d.ZoomRange()
	for z := lo; z <= hi; z++ {
		minTile, maxTile := d.tileRange(z)
		total += int64(maxTile.X-minTile.X+1) * int64(maxTile.Y-minTile.Y+1)
	}
	return total
}

// TileSeq yields the pyramid from the lowest zoom up without materializing
// it. A positive limit caps the number of tiles yielded.
func (d Definition) TileSeq(limit int64) iter.Seq[maptile.Tile] {
	return func(yield func(maptile.Tile) bool) {
		var n int64
		lo, hi := d.ZoomRange()
		for z := lo; z <= hi; z++ {
			minTile, maxTile := d.tileRange(z)
			for x := minTile.X; x <= maxTile.X; x++ {
				for y := minTile.Y; y <= maxTile.Y; y++ {
					if limit > 0 && n >= limit {
						return
					}
					n++
					if !yield(maptile.New(x, y, z)) {
						return
					}
				}
			}
		}
	}
}

// Tiles collects TileSeq(limit).
func (d Definition) Tiles(limit int64) []maptile.Tile {
	return slices.Collect(d.TileSeq(limit))
}

// BoundsFromPoints returns the smallest box containing every point.
func BoundsFromPoints(points []orb.Point) (orb.Bound, error) {
	if len(points) == 0 {
		return orb.Bound{}, errors.New("no points to bound")
	}
	return orb.MultiPoint(points).Bound(), nil
}

func clampPoint(p orb.Point) orb.Point {
	lon := math.Max(-180, math.Min(p[0], math.Nextafter(180, 0)))
	lat := math.Max(-MaxMercatorLatitude, math.Min(p[1], MaxMercatorLatitude))
	return orb.Point{lon, lat}
}

// DownloadState is the fetch state a Region Store keeps per region.
type DownloadState int

const (
	StateInactive DownloadState = iota
	StateActive
)

func (s DownloadState) String() string {
	if s == StateActive {
		return "active"
	}
	return "inactive"
}

// Region is a handle to a region owned by a Region Store.
//
// The store keeps the mutable download state; holders of a Region only use
// it to address the store.
type Region struct {
	ID         int64      `json:"id"`
	Definition Definition `json:"definition"`
	Metadata   []byte     `json:"metadata"`
}
