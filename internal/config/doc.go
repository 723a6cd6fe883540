// Package config provides configuration management for offline-regions.
//
// This package handles:
//   - Loading and saving settings from JSON or TOML files
//   - Default configuration values
//   - Conversion to blobstore.Options and the default region definition
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Tiles cached under ~/.cache/offline-regions
//	// 6000 tile limit per region, 30s stall timeout
//	// Default region covers the United Kingdom at zooms 5..8
//
// # Loading from File
//
// The format follows the file extension: .toml files are read as TOML,
// everything else as JSON.
//
//	settings, err := config.Load("/path/to/config.toml")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//
// # Saving Settings
//
//	settings.TileLimit = 10000
//	err := settings.Save("/path/to/config.json")
package config
