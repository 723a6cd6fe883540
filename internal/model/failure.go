package model

import (
	"fmt"
	"time"
)

// Failure is the closed set of reasons a download can fail. Every variant
// is an error, so failures can be wrapped and matched with errors.As.
type Failure interface {
	error
	failure()
}

// MetadataError means the region name could not be encoded.
type MetadataError struct {
	Err error
}

// RegionNameExists means the catalog already holds a region with the name.
type RegionNameExists struct {
	Name   string
	Region *Region
}

// CreateRegionError means the store rejected region creation.
type CreateRegionError struct {
	Message string
}

// RegionErrorReason classifies a fetch-time error reported by the store.
type RegionErrorReason int

const (
	ReasonOther RegionErrorReason = iota
	ReasonNotFound
	ReasonServer
	ReasonConnection
)

func (r RegionErrorReason) String() string {
	switch r {
	case ReasonNotFound:
		return "not found"
	case ReasonServer:
		return "server"
	case ReasonConnection:
		return "connection"
	default:
		return "other"
	}
}

// RegionError is a fetch-time error reported by the store.
type RegionError struct {
	Reason  RegionErrorReason
	Message string
}

// Timeout means progress stalled for longer than the watchdog allows,
// usually because connectivity was lost.
type Timeout struct {
	After time.Duration
}

// RegionsFetchFailure means listing the stored regions failed.
type RegionsFetchFailure struct {
	Message string
}

// UnrecognizedError wraps anything else that escaped the pipeline.
type UnrecognizedError struct {
	Err error
}

func (*MetadataError) failure()       {}
func (*RegionNameExists) failure()    {}
func (*CreateRegionError) failure()   {}
func (*RegionError) failure()         {}
func (*Timeout) failure()             {}
func (*RegionsFetchFailure) failure() {}
func (*UnrecognizedError) failure()   {}

func (e *MetadataError) Error() string { return "metadata error: " + e.Err.Error() }
func (e *MetadataError) Unwrap() error { return e.Err }

func (e *RegionNameExists) Error() string {
	return fmt.Sprintf("region %q already exists", e.Name)
}

func (e *CreateRegionError) Error() string { return "create region: " + e.Message }

func (e *RegionError) Error() string {
	return fmt.Sprintf("region error (%s): %s", e.Reason, e.Message)
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("no download progress for %s", e.After)
}

func (e *RegionsFetchFailure) Error() string { return "list regions: " + e.Message }

func (e *UnrecognizedError) Error() string { return "unrecognized error: " + e.Err.Error() }
func (e *UnrecognizedError) Unwrap() error { return e.Err }

// DeleteRegionFailure is returned when the store fails to delete a region.
type DeleteRegionFailure struct {
	Message string
}

func (e *DeleteRegionFailure) Error() string { return "delete region: " + e.Message }
