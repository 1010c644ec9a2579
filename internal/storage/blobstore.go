// Package storage provides the opaque blob store backing the sync protocol:
// one serialized bundle per user identifier, last write wins.
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("storage: blob not found")
	// ErrUnavailable wraps backend failures. Callers fail closed: a sync
	// that could not reach storage is treated as not synced.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	// Delete is idempotent: deleting an absent blob is not an error.
	Delete(ctx context.Context, id string) error
}
