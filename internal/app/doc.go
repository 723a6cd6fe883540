// Package app wires the region store, catalog, orchestrator and deleter
// from Settings. Both binaries start here.
package app
