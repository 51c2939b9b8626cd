// Package index defines the index-provider contract of spec.md §4.3: the
// typed tables (Config, Object, Chunk, ObjectMap) and the operations the
// dedupe engine drives. A concrete provider (e.g. index/sqlite) maps these
// typed records onto its own storage; the engine never sees provider-
// specific syntax (spec.md §9 "String-concatenated SQL as the provider").
package index

import (
	"context"
	"strings"
	"time"

	"github.com/arrowstore/ddstore/internal/errors"
)

// Object is the persisted row for a named, opaque byte sequence (spec.md
// §3 "Object").
type Object struct {
	ID               int64
	Key              string
	OriginalLength   int64
	CompressedLength int64
	ChunkCount       int
	CreatedUTC       time.Time
}

// Chunk is the persisted row for a fingerprinted immutable byte sequence
// (spec.md §3 "Chunk").
type Chunk struct {
	ID       int64
	Key      string
	Length   int
	Refcount int
}

// ObjectMapEntry binds an object position to a chunk (spec.md §3
// "ObjectMap entry").
type ObjectMapEntry struct {
	ID            int64
	ObjectKey     string
	ChunkKey      string
	ChunkLength   int
	OrdinalPos    int
	ByteAddress   int64
}

// ObjectDetail is an Object together with its map entries (sorted by
// ByteAddress) and the chunk rows they reference, as returned by
// GetObjectMetadata.
type ObjectDetail struct {
	Object Object
	Map    []ObjectMapEntry
	Chunks []Chunk
}

// Stats is the aggregate view returned by GetStatistics (spec.md §4.3).
type Stats struct {
	Objects      int64
	Chunks       int64
	LogicalBytes int64 // sum(chunk.length * chunk.refcount)
	PhysicalBytes int64 // sum(chunk.length)
}

// ObjectPage is one page of ListObjects results.
type ObjectPage struct {
	Objects        []Object
	NextIndexStart int64
}

// Provider is the index-provider contract of spec.md §4.3. Implementations
// must make every mutating method atomic with respect to concurrent
// callers, honoring the lock ordering {config, object, chunk} of spec.md §5.
type Provider interface {
	IsInitialized(ctx context.Context) (bool, error)

	AddConfigValue(ctx context.Context, key, value string) error
	GetConfigValue(ctx context.Context, key string) (string, bool, error)

	GetStatistics(ctx context.Context) (Stats, error)
	ListObjects(ctx context.Context, prefix string, indexStart int64, maxResults int) (ObjectPage, error)
	Exists(ctx context.Context, key string) (bool, error)
	GetObjectMetadata(ctx context.Context, key string) (ObjectDetail, bool, error)
	GetChunkMetadata(ctx context.Context, chunkKey string) (Chunk, bool, error)
	GetObjectMap(ctx context.Context, key string) ([]ObjectMapEntry, error)
	GetObjectMapForPosition(ctx context.Context, key string, pos int64) (ObjectMapEntry, bool, error)

	AddObject(ctx context.Context, key string, originalLen, compressedLen int64, chunkCount int) error
	AddObjectMap(ctx context.Context, objectKey, chunkKey string, length int, ordinal int, address int64) error
	IncrementChunkRefcount(ctx context.Context, chunkKey string, length int) (created bool, err error)
	DecrementChunkRefcount(ctx context.Context, chunkKey string) (shouldGC bool, err error)

	// Delete removes the object row (if any) and all of its object_map
	// entries, returning the list of chunk keys whose refcount reached zero
	// as a result (the caller must garbage-collect these via the
	// delete_chunk callback). It must also clean up an object_map entry
	// committed without a corresponding object row, so a failed write can
	// roll back by calling Delete on its key even before AddObject ran; it
	// reports NotFound only when neither an object row nor any object_map
	// row exists for key.
	Delete(ctx context.Context, key string) ([]string, error)

	Close() error
}

// Sanitize applies the engine-side key sanitization rule of spec.md §4.3
// before any string key is passed to a provider: control characters below
// 0x20 (except \n and \r) are rejected, the substrings "--", "/*", "*/" are
// stripped, and single quotes are doubled. This protects any
// string-templating provider and defines the canonical key space.
func Sanitize(key string) (string, error) {
	if key == "" {
		return "", errors.InvalidArgument("key must not be empty")
	}
	if len(key) > 1024 {
		return "", errors.InvalidArgumentf("key must be <= 1024 bytes, got %d", len(key))
	}
	for _, r := range key {
		if r < 0x20 && r != 0x0A && r != 0x0D {
			return "", errors.InvalidArgumentf("key contains disallowed control character %U", r)
		}
	}

	s := key
	s = strings.ReplaceAll(s, "--", "")
	s = strings.ReplaceAll(s, "/*", "")
	s = strings.ReplaceAll(s, "*/", "")
	s = strings.ReplaceAll(s, "'", "''")
	return s, nil
}
