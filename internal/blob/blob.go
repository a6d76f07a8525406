package blob

import "context"

// Store holds source documents between upload and pipeline cleanup.
type Store interface {
	// Put writes data at path and returns a store URI for the blob.
	Put(ctx context.Context, path string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes the blob; deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error
}
