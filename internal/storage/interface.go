package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStorage is the raw-file store behind documents. The ingestion core only
// passes keys around and resolves them to read URLs; it never reads file content.
type ObjectStorage interface {
	// Upload stores an object under key and returns the key
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)

	// Download opens an object for reading
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// PresignGetURL returns a time-limited read URL
	PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}
