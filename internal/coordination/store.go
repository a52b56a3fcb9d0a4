package coordination

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound indicates the requested key is absent from the store.
var ErrKeyNotFound = errors.New("coordination: key not found")

// Store is the key/value substrate for ephemeral coordination state. The
// single operation that matters for correctness is SetIfAbsent: it must be
// atomic so two concurrent callers can never both observe absence.
type Store interface {
	// SetIfAbsent writes value under key only when the key does not exist,
	// applying the provided ttl. Returns true when the write happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// DeleteIfValue removes key only when its current value equals value.
	// Returns true when the key was removed.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	// Expire refreshes the ttl of an existing key. Returns false when the
	// key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying connection, if any.
	Close() error
}
