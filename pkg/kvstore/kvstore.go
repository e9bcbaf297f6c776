// Package kvstore provides the persistent key-value store abstraction used by
// the cache and session layers. Implementations cover in-memory (tests),
// a single JSON file (single-process clients), Redis, and Firestore.
package kvstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when a key has no stored value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a flat string-keyed store. Keys are opaque; callers build their own
// namespaces by prefixing, and Keys supports prefix enumeration so a whole
// namespace can be cleared without tracking individual keys.
type Store interface {
	// Get retrieves the value for a key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores a value for a key, overwriting any previous value.
	Set(ctx context.Context, key string, value string) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns every stored key that begins with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Closer is included for implementations that manage network connections.
	io.Closer
}
