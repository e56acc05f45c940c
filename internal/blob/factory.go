package blob

import (
	"context"
	"fmt"

	"kittycore/internal/infra/blob/fs"
	"kittycore/internal/infra/blob/memory"
	"kittycore/internal/infra/blob/s3"
)

// S3Config holds the settings of the s3 driver.
type S3Config = s3.Config

// Config selects and configures a driver.
type Config struct {
	Driver Driver
	// FSRoot is the directory used by the fs driver; empty means fs.DefaultRoot.
	FSRoot string
	S3     S3Config
}

// Open builds the store selected by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root string) (Store, error) {
	store, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store { return memory.New() }

// NewS3 returns a store backed by an S3 or MinIO bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMockS3ForTests returns an s3 driver served by an in-process transport.
func NewMockS3ForTests(ctx context.Context, bucket string) (Store, error) {
	store, _, err := s3.NewMock(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return store, nil
}
