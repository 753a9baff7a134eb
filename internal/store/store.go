// Package store provides the durable key-value surface behind chat history.
//
// Values are opaque byte slices grouped by namespace. A namespace is one
// browsing context (one anonymous client id); keys inside it are fixed names
// chosen by the caller.
package store

import (
	"context"
)

// Store defines the key-value operations every driver implements.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. found is false when the key is
	// absent; that is not an error.
	Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, namespace, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, namespace, key string) error

	// Namespaces lists every namespace that currently holds at least one key.
	Namespaces(ctx context.Context) ([]string, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Locker is implemented by stores shared between processes. Lock holds an
// exclusive lease on namespace until the returned release func is called.
type Locker interface {
	Lock(ctx context.Context, namespace string) (release func(), err error)
}
