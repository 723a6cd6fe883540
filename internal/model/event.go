package model

import (
	"fmt"
	"time"
)

// DownloadEvent is one point in the lifecycle of a region download.
//
// The set of variants is closed: Idle, Downloading, Done, Failed and
// TileCountLimitExceeded. Consumers switch on the concrete type.
//
//	switch ev := ev.(type) {
//	case model.Downloading:
//	    bar.SetPercent(ev.Percent)
//	case model.Done:
//	    fmt.Println("saved", ev.RegionName)
//	case model.Failed:
//	    fmt.Println(ev.Cause)
//	}
type DownloadEvent interface {
	downloadEvent()
}

// Idle means no download is in progress.
type Idle struct{}

// Downloading reports a new progress percentage (0..100) for a region.
type Downloading struct {
	RegionName string
	Percent    int
}

// Done terminates a download successfully.
type Done struct {
	RegionName  string
	CompletedAt time.Time
}

// Failed terminates a download with a Failure.
type Failed struct {
	RegionName string
	Cause      Failure
}

// TileCountLimitExceeded warns that the store capped the pyramid. The
// download carries on.
type TileCountLimitExceeded struct {
	Limit int64
}

func (Idle) downloadEvent()                   {}
func (Downloading) downloadEvent()            {}
func (Done) downloadEvent()                   {}
func (Failed) downloadEvent()                 {}
func (TileCountLimitExceeded) downloadEvent() {}

func (Idle) String() string { return "idle" }

func (e Downloading) String() string {
	return fmt.Sprintf("downloading %q %d%%", e.RegionName, e.Percent)
}

func (e Done) String() string {
	return fmt.Sprintf("done %q at %s", e.RegionName, e.CompletedAt.Format(time.RFC3339))
}

func (e Failed) String() string {
	return fmt.Sprintf("failed %q: %v", e.RegionName, e.Cause)
}

func (e TileCountLimitExceeded) String() string {
	return fmt.Sprintf("tile count limit %d exceeded", e.Limit)
}

// IsTerminal reports whether ev ends a download.
func IsTerminal(ev DownloadEvent) bool {
	switch ev.(type) {
	case Done, Failed:
		return true
	}
	return false
}
