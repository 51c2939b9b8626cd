// Package chunkstore defines the callback contract for chunk byte storage:
// the engine's sole blocking collaborator for chunk bytes. Concrete
// implementations (chunkstore/local, chunkstore/s3) are external
// collaborators, not part of the dedup core.
package chunkstore

import "context"

// Store is the capability set the dedupe engine invokes to persist,
// retrieve, and garbage-collect chunk bytes.
//
// WriteChunk must be idempotent for identical (key, bytes) pairs: the
// engine may call it for a chunk that already exists in the index.
//
// ReadChunk must return the exact bytes previously written for key, or a
// missing-chunk error.
//
// DeleteChunk failures are logged by the caller but never roll back an
// already-committed index delete.
type Store interface {
	WriteChunk(ctx context.Context, key string, data []byte) error
	ReadChunk(ctx context.Context, key string) ([]byte, error)
	DeleteChunk(ctx context.Context, key string) error
}
