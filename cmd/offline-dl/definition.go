package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/pflag"

	"github.com/handiism/offline-regions/internal/model"
)

// regionFlags are the download flags that shape the Definition.
type regionFlags struct {
	definitionFile string
	points         string
	tileURL        string
	north          float64
	east           float64
	south          float64
	west           float64
	minZoom        float64
	maxZoom        float64
	pixelRatio     float32
}

func (f *regionFlags) register(fs *pflag.FlagSet, def model.Definition) {
	fs.StringVar(&f.definitionFile, "definition", "", "JSON file holding a region definition")
	fs.StringVar(&f.points, "points", "", `edge coordinates to bound, as "lon,lat;lon,lat;..."`)
	fs.StringVar(&f.tileURL, "tile-url", def.StyleURL, "tile URL template with {z} {x} {y} and optional {r}")
	fs.Float64Var(&f.north, "north", def.North, "northern latitude")
	fs.Float64Var(&f.east, "east", def.East, "eastern longitude")
	fs.Float64Var(&f.south, "south", def.South, "southern latitude")
	fs.Float64Var(&f.west, "west", def.West, "western longitude")
	fs.Float64Var(&f.minZoom, "min-zoom", def.MinZoom, "lowest zoom level")
	fs.Float64Var(&f.maxZoom, "max-zoom", def.MaxZoom, "highest zoom level")
	fs.Float32Var(&f.pixelRatio, "pixel-ratio", def.PixelRatio, "device pixel ratio")
}

// build resolves the Definition. The base is the definition file when
// given, otherwise the configured default. --points replaces the bounds,
// and explicitly set flags override both.
func (f *regionFlags) build(fs *pflag.FlagSet, base model.Definition) (model.Definition, error) {
	def := base
	if f.definitionFile != "" {
		loaded, err := loadDefinition(f.definitionFile)
		if err != nil {
			return model.Definition{}, err
		}
		def = loaded
	}

	if f.points != "" {
		points, err := parsePoints(f.points)
		if err != nil {
			return model.Definition{}, err
		}
		bound, err := model.BoundsFromPoints(points)
		if err != nil {
			return model.Definition{}, err
		}
		def = model.NewDefinition(def.StyleURL, bound, def.MinZoom, def.MaxZoom, def.PixelRatio)
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("tile-url", func() { def.StyleURL = f.tileURL })
	set("north", func() { def.North = f.north })
	set("east", func() { def.East = f.east })
	set("south", func() { def.South = f.south })
	set("west", func() { def.West = f.west })
	set("min-zoom", func() { def.MinZoom = f.minZoom })
	set("max-zoom", func() { def.MaxZoom = f.maxZoom })
	set("pixel-ratio", func() { def.PixelRatio = f.pixelRatio })

	if err := def.Validate(); err != nil {
		return model.Definition{}, err
	}
	return def, nil
}

func loadDefinition(path string) (model.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Definition{}, err
	}
	var def model.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return model.Definition{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return def, nil
}

// parsePoints parses "lon,lat;lon,lat" into points.
func parsePoints(raw string) ([]orb.Point, error) {
	var points []orb.Point
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		lon, lat, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, fmt.Errorf("point %q: want lon,lat", pair)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", pair, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", pair, err)
		}
		points = append(points, orb.Point{x, y})
	}
	return points, nil
}
