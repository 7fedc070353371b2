// Package database provides storage backends for the candidate queue.
package database

import "context"

// Store defines the key/value operations the queue needs.
// SQLite, PostgreSQL, Redis, NATS KV and in-memory implementations satisfy
// this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the backend ("SQLite", "Redis", ...).
	DatabaseType() string

	// Get returns the value stored at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}
