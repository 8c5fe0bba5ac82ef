// Package output defines the secondary/driven ports of the application.
package output

import "context"

// Publisher defines the secondary port for mosaic delivery.
type Publisher interface {
	// Exists checks if a mosaic was already published under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Upload publishes the local file at path under key.
	Upload(ctx context.Context, key string, path string) error

	// Type returns the backend type.
	Type() StorageType
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeLocal StorageType = "local"
)

// DiskSpace reports free space of a filesystem.
type DiskSpace interface {
	// Free returns the bytes available to unprivileged users at path.
	Free(path string) (uint64, error)
}
