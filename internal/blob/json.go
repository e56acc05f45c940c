package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

const jsonContentType = "application/json"

// PutJSON encodes v as indented JSON and writes it under key.
func PutJSON(ctx context.Context, store Store, key string, v any, overwrite bool) (Info, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Put(ctx, key, bytes.NewReader(payload), PutOptions{
		ContentType: jsonContentType,
		Overwrite:   overwrite,
	})
}

// GetJSON decodes the blob at key into v. A missing key yields ErrNotFound.
func GetJSON(ctx context.Context, store Store, key string, v any) error {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
