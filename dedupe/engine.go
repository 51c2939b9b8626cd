// Package dedupe implements the write/read/delete orchestration of the
// content-addressed store: the engine couples chunk persistence (via a
// chunkstore.Store) with index updates (via an index.Provider), enforcing
// the fingerprint-stored-once invariant and rolling back on failure.
package dedupe

import (
	"bytes"
	"context"
	"io"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arrowstore/ddstore/chunker"
	"github.com/arrowstore/ddstore/internal/chunkstore"
	"github.com/arrowstore/ddstore/internal/config"
	"github.com/arrowstore/ddstore/internal/debug"
	"github.com/arrowstore/ddstore/internal/dedupelog"
	"github.com/arrowstore/ddstore/internal/errors"
	"github.com/arrowstore/ddstore/internal/index"
)

// Engine orchestrates write/read/delete/list/exists/stats over an
// index.Provider and a chunkstore.Store.
type Engine struct {
	idx     index.Provider
	store   chunkstore.Store
	params  chunker.Params
	events  dedupelog.EventSink
	writeSF singleflight.Group // collapses concurrent write_chunk calls for one chunk key
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithEventSink binds a structured progress sink that observes write, dedup,
// and delete activity as it happens.
func WithEventSink(sink dedupelog.EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// Open loads the chunking parameters from idx (failing if the index has
// never been initialized) and returns a ready Engine.
func Open(ctx context.Context, idx index.Provider, store chunkstore.Store, opts ...Option) (*Engine, error) {
	initialized, err := idx.IsInitialized(ctx)
	if err != nil {
		return nil, errors.Index(err, "check index initialization")
	}
	if !initialized {
		return nil, errors.Integrity("index has not been created; run create first")
	}
	params, err := config.Load(ctx, idx)
	if err != nil {
		return nil, err
	}
	return newEngine(idx, store, params, opts...), nil
}

// Create initializes a brand-new index with params and returns a ready
// Engine. The parameters are written once and re-validated on every later
// Open.
func Create(ctx context.Context, idx index.Provider, store chunkstore.Store, params chunker.Params, opts ...Option) (*Engine, error) {
	initialized, err := idx.IsInitialized(ctx)
	if err != nil {
		return nil, errors.Index(err, "check index initialization")
	}
	if initialized {
		return nil, errors.InvalidArgument("index is already initialized")
	}
	if err := config.Create(ctx, idx, params); err != nil {
		return nil, err
	}
	return newEngine(idx, store, params, opts...), nil
}

func newEngine(idx index.Provider, store chunkstore.Store, params chunker.Params, opts ...Option) *Engine {
	e := &Engine{idx: idx, store: store, params: params, events: dedupelog.NopSink()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Params returns the chunking parameters the engine was opened with.
func (e *Engine) Params() chunker.Params { return e.params }

func (e *Engine) emit(ev dedupelog.Event) { e.events.Emit(ev) }

// Write stores a new object under key, reading exactly contentLength bytes
// from src. It fails with AlreadyExists if key is already in use.
func (e *Engine) Write(ctx context.Context, key string, contentLength int64, src io.Reader) error {
	return e.write(ctx, key, contentLength, src, false)
}

// WriteOrReplace stores an object under key, first deleting any existing
// object with that key.
func (e *Engine) WriteOrReplace(ctx context.Context, key string, contentLength int64, src io.Reader) error {
	return e.write(ctx, key, contentLength, src, true)
}

func (e *Engine) write(ctx context.Context, rawKey string, contentLength int64, src io.Reader, replace bool) error {
	if contentLength < 1 {
		return errors.InvalidArgumentf("content_length must be > 0, got %d", contentLength)
	}
	key, err := index.Sanitize(rawKey)
	if err != nil {
		return err
	}

	exists, err := e.idx.Exists(ctx, key)
	if err != nil {
		return errors.Index(err, "check existence")
	}
	if exists {
		if !replace {
			return errors.AlreadyExists(key)
		}
		if err := e.Delete(ctx, key); err != nil {
			return err
		}
	}

	opID := dedupelog.NewOpID()
	e.emit(dedupelog.Event{Kind: dedupelog.WriteBegin, Key: key, OpID: opID})
	debug.Log("write begin key=%s length=%d op=%s", key, contentLength, opID)

	c, err := chunker.New(src, contentLength, e.params)
	if err != nil {
		return err
	}

	var (
		chunkCount int
		sumLengths int64
	)

	rollback := func(cause error) error {
		gc, delErr := e.idx.Delete(ctx, key)
		if delErr != nil && errors.KindOf(delErr) != errors.KindNotFound {
			debug.Log("rollback: delete failed for key=%s: %v", key, delErr)
		}
		for _, ck := range gc {
			if err := e.store.DeleteChunk(ctx, ck); err != nil {
				debug.Log("rollback: delete_chunk failed for %s: %v", ck, err)
			}
		}
		e.emit(dedupelog.Event{Kind: dedupelog.WriteRollback, Key: key, OpID: opID, Err: cause})
		return cause
	}

	err = c.Each(func(ch chunker.Chunk) error {
		created, err := e.idx.IncrementChunkRefcount(ctx, ch.Key, len(ch.Bytes))
		if err != nil {
			return errors.Index(err, "increment chunk refcount")
		}

		if err := e.idx.AddObjectMap(ctx, key, ch.Key, len(ch.Bytes), ch.Ordinal, ch.Address); err != nil {
			return errors.Index(err, "add object map entry")
		}

		if created {
			_, err, _ := e.writeSF.Do(ch.Key, func() (interface{}, error) {
				return nil, e.store.WriteChunk(ctx, ch.Key, ch.Bytes)
			})
			if err != nil {
				return errors.Storage(err, "write chunk")
			}
		}

		chunkCount++
		sumLengths += int64(len(ch.Bytes))
		e.emit(dedupelog.Event{
			Kind: dedupelog.ChunkEmitted, Key: key, OpID: opID,
			ChunkKey: ch.Key, ChunkLength: len(ch.Bytes), Deduped: !created,
		})
		return nil
	})
	if err != nil {
		return rollback(err)
	}

	if err := e.idx.AddObject(ctx, key, contentLength, sumLengths, chunkCount); err != nil {
		return rollback(errors.Index(err, "add object"))
	}

	e.emit(dedupelog.Event{Kind: dedupelog.WriteCommit, Key: key, OpID: opID})
	debug.Log("write commit key=%s chunks=%d physical=%d", key, chunkCount, sumLengths)
	return nil
}

// ObjectMetadata is the engine-level view of a stored object's metadata.
type ObjectMetadata struct {
	Key              string
	OriginalLength   int64
	CompressedLength int64
	ChunkCount       int
	CreatedUTC       time.Time
}

func toMetadata(o index.Object) ObjectMetadata {
	return ObjectMetadata{
		Key: o.Key, OriginalLength: o.OriginalLength,
		CompressedLength: o.CompressedLength, ChunkCount: o.ChunkCount, CreatedUTC: o.CreatedUTC,
	}
}

// Get reconstructs the full object under key by concatenating its chunks in
// address order.
func (e *Engine) Get(ctx context.Context, rawKey string) ([]byte, ObjectMetadata, error) {
	key, err := index.Sanitize(rawKey)
	if err != nil {
		return nil, ObjectMetadata{}, err
	}

	detail, found, err := e.idx.GetObjectMetadata(ctx, key)
	if err != nil {
		return nil, ObjectMetadata{}, errors.Index(err, "get object metadata")
	}
	if !found {
		return nil, ObjectMetadata{}, errors.NotFound("object", key)
	}

	var buf bytes.Buffer
	buf.Grow(int(detail.Object.OriginalLength))
	for _, m := range detail.Map {
		data, err := e.store.ReadChunk(ctx, m.ChunkKey)
		if err != nil {
			return nil, ObjectMetadata{}, errors.Storage(err, "read chunk")
		}
		if len(data) != m.ChunkLength {
			return nil, ObjectMetadata{}, errors.Integrityf(
				"chunk %s length mismatch: map says %d, store has %d", m.ChunkKey, m.ChunkLength, len(data))
		}
		buf.Write(data)
	}
	if int64(buf.Len()) != detail.Object.OriginalLength {
		return nil, ObjectMetadata{}, errors.Integrityf(
			"object %s: reconstructed %d bytes, expected %d", key, buf.Len(), detail.Object.OriginalLength)
	}

	return buf.Bytes(), toMetadata(detail.Object), nil
}

// Verify re-reads every chunk referenced by the object under key and
// confirms its SHA-256 still matches its stored chunk key, without mutating
// the index or the chunk store. It returns an IntegrityError describing the
// first mismatch found.
func (e *Engine) Verify(ctx context.Context, rawKey string) error {
	key, err := index.Sanitize(rawKey)
	if err != nil {
		return err
	}

	detail, found, err := e.idx.GetObjectMetadata(ctx, key)
	if err != nil {
		return errors.Index(err, "get object metadata")
	}
	if !found {
		return errors.NotFound("object", key)
	}

	var sum int64
	for _, m := range detail.Map {
		data, err := e.store.ReadChunk(ctx, m.ChunkKey)
		if err != nil {
			return errors.Storage(err, "read chunk")
		}
		if len(data) != m.ChunkLength {
			return errors.Integrityf("object %s: chunk %s length mismatch: map says %d, store has %d",
				key, m.ChunkKey, m.ChunkLength, len(data))
		}
		if got := chunker.Key(data); got != m.ChunkKey {
			return errors.Integrityf("object %s: chunk at address %d has key %s, recomputed %s",
				key, m.ByteAddress, m.ChunkKey, got)
		}
		sum += int64(len(data))
	}
	if sum != detail.Object.OriginalLength {
		return errors.Integrityf("object %s: chunk lengths sum to %d, expected %d", key, sum, detail.Object.OriginalLength)
	}
	return nil
}

// Delete removes an object and garbage-collects any chunk that becomes
// unreferenced as a result.
func (e *Engine) Delete(ctx context.Context, rawKey string) error {
	key, err := index.Sanitize(rawKey)
	if err != nil {
		return err
	}

	opID := dedupelog.NewOpID()
	e.emit(dedupelog.Event{Kind: dedupelog.DeleteBegin, Key: key, OpID: opID})

	gc, err := e.idx.Delete(ctx, key)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return errors.NotFound("object", key)
		}
		return errors.Index(err, "delete object")
	}

	for _, ck := range gc {
		if err := e.store.DeleteChunk(ctx, ck); err != nil {
			// A failed chunk GC is logged, not surfaced: the object is already
			// gone from the index and the caller cannot act on this error.
			debug.Log("delete_chunk failed for %s: %v", ck, err)
		}
	}

	e.emit(dedupelog.Event{Kind: dedupelog.DeleteCommit, Key: key, OpID: opID})
	debug.Log("delete commit key=%s gc=%d", key, len(gc))
	return nil
}

// Exists reports whether an object with key is stored.
func (e *Engine) Exists(ctx context.Context, rawKey string) (bool, error) {
	key, err := index.Sanitize(rawKey)
	if err != nil {
		return false, err
	}
	ok, err := e.idx.Exists(ctx, key)
	if err != nil {
		return false, errors.Index(err, "check existence")
	}
	return ok, nil
}

// GetMetadata returns an object's metadata without reading any chunk bytes.
func (e *Engine) GetMetadata(ctx context.Context, rawKey string) (ObjectMetadata, error) {
	key, err := index.Sanitize(rawKey)
	if err != nil {
		return ObjectMetadata{}, err
	}
	detail, found, err := e.idx.GetObjectMetadata(ctx, key)
	if err != nil {
		return ObjectMetadata{}, errors.Index(err, "get object metadata")
	}
	if !found {
		return ObjectMetadata{}, errors.NotFound("object", key)
	}
	return toMetadata(detail.Object), nil
}

// ObjectPage is one page of ListObjects results.
type ObjectPage struct {
	Objects        []ObjectMetadata
	NextIndexStart int64
}

// ListObjects returns a page of objects, optionally filtered by key prefix.
func (e *Engine) ListObjects(ctx context.Context, prefix string, indexStart int64, maxResults int) (ObjectPage, error) {
	page, err := e.idx.ListObjects(ctx, prefix, indexStart, maxResults)
	if err != nil {
		return ObjectPage{}, err
	}
	out := ObjectPage{NextIndexStart: page.NextIndexStart}
	for _, o := range page.Objects {
		out.Objects = append(out.Objects, toMetadata(o))
	}
	return out, nil
}

// Stats is the engine-level statistics view, including the derived dedup
// ratio.
type Stats struct {
	Objects       int64
	Chunks        int64
	LogicalBytes  int64
	PhysicalBytes int64
	RatioX        float64
	RatioPercent  float64
}

// IndexStats computes aggregate statistics and the derived dedup ratio.
func (e *Engine) IndexStats(ctx context.Context) (Stats, error) {
	s, err := e.idx.GetStatistics(ctx)
	if err != nil {
		return Stats{}, errors.Index(err, "get statistics")
	}
	out := Stats{Objects: s.Objects, Chunks: s.Chunks, LogicalBytes: s.LogicalBytes, PhysicalBytes: s.PhysicalBytes}
	if s.LogicalBytes > 0 && s.PhysicalBytes > 0 {
		out.RatioX = float64(s.LogicalBytes) / float64(s.PhysicalBytes)
		out.RatioPercent = 100 * (1 - float64(s.PhysicalBytes)/float64(s.LogicalBytes))
	}
	return out, nil
}

// Close releases the underlying index provider.
func (e *Engine) Close() error { return e.idx.Close() }
