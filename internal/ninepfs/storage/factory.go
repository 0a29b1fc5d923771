package storage

import (
	"context"
	"fmt"

	"github.com/ninep-go/ninepd/internal/ninepfs/storage/localfat"
	"github.com/ninep-go/ninepd/internal/ninepfs/storage/memfs"
	"github.com/ninep-go/ninepd/internal/ninepfs/storage/s3fat"
)

// DriverConfig carries the fields config.StorageConfig exposes, duplicated
// here (rather than imported) so this leaf package never depends on
// internal/ninepfs/config — the dependency runs the other way, with the
// ninepd serve command passing a DriverConfig built from a loaded ServerConfig.
type DriverConfig struct {
	Driver string

	LocalBasePath  string
	LocalCreateDir bool

	MemoryCapacityBytes uint64

	S3Bucket string
	S3Prefix string
	S3Region string
}

// Build constructs the selected Backend, following the teacher's
// pkg/config/stores.go pattern of a single driver-name switch producing a
// concrete store. The caller wraps the result in NewSerialized.
func Build(ctx context.Context, cfg DriverConfig) (Backend, error) {
	var inner Backend
	switch cfg.Driver {
	case "local", "":
		b, err := localfat.New(localfat.Config{
			BasePath:  cfg.LocalBasePath,
			CreateDir: cfg.LocalCreateDir,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: failed to open local backend: %w", err)
		}
		inner = b
	case "memory":
		inner = memfs.New(cfg.MemoryCapacityBytes)
	case "s3":
		b, err := s3fat.New(ctx, s3fat.Config{
			Bucket:    cfg.S3Bucket,
			KeyPrefix: cfg.S3Prefix,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: failed to open s3 backend: %w", err)
		}
		inner = b
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	return inner, nil
}
