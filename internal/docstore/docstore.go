package docstore

import (
	"context"
)

// UpdateFunc transforms one document inside a transaction. cur is nil when
// the document does not exist. Returning (nil, nil) commits nothing, which
// is how callers express "checked, decided not to write". Returning an
// error aborts the transaction and propagates the error unchanged.
type UpdateFunc func(cur []byte) (next []byte, err error)

// Store is an atomic compare-and-update capability over keyed JSON
// documents. Every Update call for a given (collection, key) executes as a
// single transaction against the backing store, so concurrent callers from
// independent processes serialize correctly. Any backend with optimistic
// transactions or row locking can satisfy this contract.
type Store interface {
	// Get returns the document bytes, or nil when absent.
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// Put unconditionally writes the document.
	Put(ctx context.Context, collection, key string, doc []byte) error
	// Update runs fn on the current document inside one transaction and
	// returns the bytes fn produced (nil when fn declined to write).
	Update(ctx context.Context, collection, key string, fn UpdateFunc) ([]byte, error)
	// Delete removes the document; deleting an absent key is a no-op.
	Delete(ctx context.Context, collection, key string) error
	// List returns all documents in a collection keyed by document key.
	List(ctx context.Context, collection string) (map[string][]byte, error)

	Close() error
}
