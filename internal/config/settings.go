package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/handiism/offline-regions/internal/model"
	"github.com/handiism/offline-regions/internal/store/blobstore"
)

// Settings holds all configuration options.
type Settings struct {
	// Storage
	StoreURL string `json:"store_url" toml:"store_url"` // gocloud.dev bucket URL
	TileURL  string `json:"tile_url" toml:"tile_url"`   // {z} {x} {y} {r} template

	// Download settings
	TileLimit             int64   `json:"tile_limit" toml:"tile_limit"`
	StallTimeoutSeconds   float64 `json:"stall_timeout_seconds" toml:"stall_timeout_seconds"`
	MaxConcurrentTiles    int     `json:"max_concurrent_tiles" toml:"max_concurrent_tiles"`
	DownloadMaxRetries    int     `json:"download_max_retries" toml:"download_max_retries"`
	DownloadRetryCooldown float64 `json:"download_retry_cooldown" toml:"download_retry_cooldown"`
	DownloadRetryExponent float64 `json:"download_retry_exponent" toml:"download_retry_exponent"`
	NormalizeRasterTiles  bool    `json:"normalize_raster_tiles" toml:"normalize_raster_tiles"`

	// Logging
	LogLevel string `json:"log_level" toml:"log_level"`

	// Default region
	Region RegionSettings `json:"region" toml:"region"`
}

// RegionSettings is the region downloaded when none is given explicitly.
type RegionSettings struct {
	North      float64 `json:"north" toml:"north"`
	East       float64 `json:"east" toml:"east"`
	South      float64 `json:"south" toml:"south"`
	West       float64 `json:"west" toml:"west"`
	MinZoom    float64 `json:"min_zoom" toml:"min_zoom"`
	MaxZoom    float64 `json:"max_zoom" toml:"max_zoom"`
	PixelRatio float32 `json:"pixel_ratio" toml:"pixel_ratio"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	uk := model.UKBounds

	return &Settings{
		StoreURL: "file://" + filepath.ToSlash(filepath.Join(cacheDir, "offline-regions")),
		TileURL:  "https://tile.openstreetmap.org/{z}/{x}/{y}.png",

		TileLimit:             6000,
		StallTimeoutSeconds:   30,
		MaxConcurrentTiles:    8,
		DownloadMaxRetries:    3,
		DownloadRetryCooldown: 0.2,
		DownloadRetryExponent: 4.0,
		NormalizeRasterTiles:  false,

		LogLevel: "info",

		Region: RegionSettings{
			North:      uk.Top(),
			East:       uk.Right(),
			South:      uk.Bottom(),
			West:       uk.Left(),
			MinZoom:    5,
			MaxZoom:    8,
			PixelRatio: 1,
		},
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads settings from a JSON or TOML file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if isTOML(path) {
		if _, err := toml.Decode(string(data), settings); err != nil {
			return nil, err
		}
		return settings, nil
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// Save writes settings to a JSON or TOML file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(s); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}

// StallTimeout returns the stall timeout as a duration.
func (s *Settings) StallTimeout() time.Duration {
	return time.Duration(s.StallTimeoutSeconds * float64(time.Second))
}

// DefaultDefinition builds the default region against the configured
// tile URL.
func (s *Settings) DefaultDefinition() model.Definition {
	r := s.Region
	return model.Definition{
		StyleURL:   s.TileURL,
		North:      r.North,
		East:       r.East,
		South:      r.South,
		West:       r.West,
		MinZoom:    r.MinZoom,
		MaxZoom:    r.MaxZoom,
		PixelRatio: r.PixelRatio,
	}
}

// ToStoreOptions converts settings to blobstore.Options.
func (s *Settings) ToStoreOptions(logger zerolog.Logger) blobstore.Options {
	return blobstore.Options{
		TileLimit:       s.TileLimit,
		Workers:         s.MaxConcurrentTiles,
		MaxRetries:      s.DownloadMaxRetries,
		RetryCooldown:   s.DownloadRetryCooldown,
		RetryExponent:   s.DownloadRetryExponent,
		NormalizeRaster: s.NormalizeRasterTiles,
		Logger:          logger,
	}
}
