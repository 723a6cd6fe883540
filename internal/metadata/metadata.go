// Package metadata encodes a region's human-readable name into the opaque
// metadata blob a Region Store keeps next to each region, and decodes it
// back.
//
// The blob is UTF-8 JSON of the form:
//
//	{"FIELD_REGION_NAME":"Paris"}
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/handiism/offline-regions/internal/model"
)

// FieldRegionName is the JSON key holding the region name.
const FieldRegionName = "FIELD_REGION_NAME"

var (
	// ErrInvalidName is returned by Encode for names that are not valid UTF-8.
	ErrInvalidName = errors.New("metadata: region name is not valid UTF-8")

	// ErrDecode is wrapped by every Decode failure.
	ErrDecode = errors.New("metadata: cannot decode region name")
)

// Encode serializes name into a metadata blob.
func Encode(name string) ([]byte, error) {
	if !utf8.ValidString(name) {
		return nil, ErrInvalidName
	}
	data, err := json.Marshal(map[string]string{FieldRegionName: name})
	if err != nil {
		return nil, fmt.Errorf("metadata: encode %q: %w", name, err)
	}
	return data, nil
}

// Decode extracts the region name from a metadata blob.
func Decode(data []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	raw, ok := fields[FieldRegionName]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrDecode, FieldRegionName)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrDecode, FieldRegionName)
	}
	return name, nil
}

// RegionName returns the decoded name of region, or a name derived from its
// id when the metadata cannot be decoded. It never fails.
func RegionName(region *model.Region) string {
	name, err := Decode(region.Metadata)
	if err != nil {
		return FallbackName(region.ID)
	}
	return name
}

// FallbackName is the name shown for regions without readable metadata.
func FallbackName(id int64) string {
	return fmt.Sprintf("region id: %d", id)
}
