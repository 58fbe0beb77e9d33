// Package content reads and writes raw and derived story content in object
// storage. Keys are deterministic so concurrent writers for the same job
// produce equivalent objects and overwrites are safe.
package content

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("content: not found")

// Store is the object storage contract the pipeline depends on.
type Store interface {
	// Get returns the object bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object bytes for key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}
