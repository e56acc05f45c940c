package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the snapshot sections in the order durable stores write them.
// Each bucket is stored as one JSON payload keyed by its name.
var Buckets = []string{"kitties", "owners", "lineage", "allocator", "events"}

// EncodeBucket marshals one snapshot section.
func (s Snapshot) EncodeBucket(bucket string) ([]byte, error) {
	switch bucket {
	case "kitties":
		return json.Marshal(s.Kitties)
	case "owners":
		return json.Marshal(s.Owners)
	case "lineage":
		return json.Marshal(s.Lineage)
	case "allocator":
		return json.Marshal(s.Allocator)
	case "events":
		return json.Marshal(s.Events)
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
}

// DecodeBucket unmarshals payload into the named section. Unknown buckets are
// ignored so older binaries can read state written by newer ones.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case "kitties":
		target = &s.Kitties
	case "owners":
		target = &s.Owners
	case "lineage":
		target = &s.Lineage
	case "allocator":
		target = &s.Allocator
	case "events":
		target = &s.Events
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
