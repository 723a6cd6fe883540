package model

import "math"

// Status is a snapshot of a region's download progress as reported by the
// Region Store.
type Status struct {
	CompletedResourceCount int64
	CompletedResourceSize  int64

	// RequiredResourceCount is only meaningful when
	// RequiredResourceCountPrecise is set.
	RequiredResourceCount        int64
	RequiredResourceCountPrecise bool

	Complete      bool
	DownloadState DownloadState
}

// Percent returns round(100 * completed / required) clamped to 0..100.
// ok is false while the required count is still an estimate.
func (s Status) Percent() (percent int, ok bool) {
	if !s.RequiredResourceCountPrecise || s.RequiredResourceCount <= 0 {
		return 0, false
	}
	p := math.Round(100 * float64(s.CompletedResourceCount) / float64(s.RequiredResourceCount))
	return int(math.Max(0, math.Min(100, p))), true
}
