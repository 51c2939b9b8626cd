package dedupe

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/arrowstore/ddstore/chunker"
	"github.com/arrowstore/ddstore/internal/chunkstore"
	"github.com/arrowstore/ddstore/internal/chunkstore/local"
	"github.com/arrowstore/ddstore/internal/dedupelog"
	"github.com/arrowstore/ddstore/internal/errors"
	"github.com/arrowstore/ddstore/internal/index/sqlite"
)

// smallParams keeps chunk boundaries small enough that a few KB of test
// data spans multiple chunks, without the cost of the production defaults.
var smallParams = chunker.Params{MinChunkSize: 256, MaxChunkSize: 2048, ShiftCount: 16, BoundaryCheckBytes: 1}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	idx, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	store, err := local.New(filepath.Join(t.TempDir(), "chunks"))
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	eng, err := Create(context.Background(), idx, store, smallParams)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func getRandom(seed int64, count int) []byte {
	buf := make([]byte, count)
	rnd := rand.New(rand.NewSource(seed))
	for i := 0; i < count; i += 4 {
		r := rnd.Uint32()
		buf[i] = byte(r)
		if i+1 < count {
			buf[i+1] = byte(r >> 8)
		}
		if i+2 < count {
			buf[i+2] = byte(r >> 16)
		}
		if i+3 < count {
			buf[i+3] = byte(r >> 24)
		}
	}
	return buf
}

func TestCreateRejectsDoubleInit(t *testing.T) {
	idx, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	store, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}

	eng, err := Create(context.Background(), idx, store, smallParams)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer eng.Close()

	if _, err := Create(context.Background(), idx, store, smallParams); !errors.Is(err, errors.KindInvalidArgument) {
		t.Fatalf("expected KindInvalidArgument re-creating an initialized index, got %v", err)
	}
}

func TestOpenRejectsUninitialized(t *testing.T) {
	idx, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	defer idx.Close()
	store, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}

	if _, err := Open(context.Background(), idx, store); errors.KindOf(err) != errors.KindIntegrityError {
		t.Fatalf("expected KindIntegrityError opening an uninitialized index, got %v", err)
	}
}

func TestWriteGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	data := getRandom(1, 64*1024)
	if err := eng.Write(ctx, "big-object", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, meta, err := eng.Get(ctx, "big-object")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("Get did not reproduce the written bytes")
	}
	if meta.OriginalLength != int64(len(data)) {
		t.Fatalf("OriginalLength = %d, want %d", meta.OriginalLength, len(data))
	}
	if meta.ChunkCount < 2 {
		t.Fatalf("expected multiple chunks for %d bytes, got %d", len(data), meta.ChunkCount)
	}
}

func TestWriteRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	data := []byte("hello")
	if err := eng.Write(ctx, "dup", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := eng.Write(ctx, "dup", int64(len(data)), bytes.NewReader(data)); !errors.Is(err, errors.KindAlreadyExists) {
		t.Fatalf("expected KindAlreadyExists on duplicate Write, got %v", err)
	}
}

func TestWriteOrReplace(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	first := []byte("version one")
	second := []byte("version two, a fair bit longer than the first")

	if err := eng.Write(ctx, "k", int64(len(first)), bytes.NewReader(first)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := eng.WriteOrReplace(ctx, "k", int64(len(second)), bytes.NewReader(second)); err != nil {
		t.Fatalf("WriteOrReplace: %v", err)
	}

	got, _, err := eng.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Fatalf("Get after WriteOrReplace returned %q, want %q", got, second)
	}
}

func TestDeduplicationAcrossObjects(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	shared := getRandom(2, 8*1024)

	if err := eng.Write(ctx, "a", int64(len(shared)), bytes.NewReader(shared)); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := eng.Write(ctx, "b", int64(len(shared)), bytes.NewReader(shared)); err != nil {
		t.Fatalf("Write b: %v", err)
	}

	stats, err := eng.IndexStats(ctx)
	if err != nil {
		t.Fatalf("IndexStats: %v", err)
	}
	if stats.Objects != 2 {
		t.Fatalf("expected 2 objects, got %d", stats.Objects)
	}
	if stats.LogicalBytes <= stats.PhysicalBytes {
		t.Fatalf("identical objects should dedup: logical=%d physical=%d", stats.LogicalBytes, stats.PhysicalBytes)
	}
	if stats.RatioX < 1.9 {
		t.Fatalf("expected close to a 2x dedup ratio for two identical objects, got %.2f", stats.RatioX)
	}

	// deleting one must not disturb the other's chunks.
	if err := eng.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete a: %v", err)
	}
	got, _, err := eng.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get b after deleting a: %v", err)
	}
	if !bytes.Equal(got, shared) {
		t.Fatal("object b changed after deleting object a")
	}
}

func TestEventSinkObservesWriteAndDedup(t *testing.T) {
	ctx := context.Background()
	idx, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	store, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}

	var events []dedupelog.Event
	sink := dedupelog.FuncSink(func(e dedupelog.Event) { events = append(events, e) })

	eng, err := Create(ctx, idx, store, smallParams, WithEventSink(sink))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer eng.Close()

	data := getRandom(20, 4096)
	if err := eng.Write(ctx, "a", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := eng.Write(ctx, "b", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Write b: %v", err)
	}

	var sawCommit, sawDedupedChunk bool
	for _, e := range events {
		if e.Kind == dedupelog.WriteCommit && e.Key == "b" {
			sawCommit = true
		}
		if e.Kind == dedupelog.ChunkEmitted && e.Key == "b" && e.Deduped {
			sawDedupedChunk = true
		}
	}
	if !sawCommit {
		t.Fatal("expected a WriteCommit event for object b")
	}
	if !sawDedupedChunk {
		t.Fatal("expected at least one ChunkEmitted event with Deduped=true when writing an identical object")
	}
}

func TestDeleteUnknownKey(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	if err := eng.Delete(ctx, "nope"); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected KindNotFound deleting an unknown key, got %v", err)
	}
}

func TestGetUnknownKey(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	if _, _, err := eng.Get(ctx, "nope"); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected KindNotFound getting an unknown key, got %v", err)
	}
}

func TestVerifyDetectsTamperedChunk(t *testing.T) {
	ctx := context.Background()
	idx, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	chunkDir := filepath.Join(t.TempDir(), "chunks")
	store, err := local.New(chunkDir)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	eng, err := Create(ctx, idx, store, smallParams)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer eng.Close()

	data := getRandom(3, 4096)
	if err := eng.Write(ctx, "obj", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := eng.Verify(ctx, "obj"); err != nil {
		t.Fatalf("Verify on an untouched object: %v", err)
	}

	// corrupt every chunk file on disk directly; at least one fingerprint
	// mismatch must surface through Verify.
	corruptAllChunkFiles(t, chunkDir)

	if err := eng.Verify(ctx, "obj"); errors.KindOf(err) != errors.KindIntegrityError {
		t.Fatalf("expected KindIntegrityError after tampering with chunk bytes, got %v", err)
	}
}

func TestWriteRollsBackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	idx, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	store := &failingStore{Store: mustLocal(t), failAfter: 1}
	eng, err := Create(ctx, idx, store, smallParams)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer eng.Close()

	data := getRandom(4, 8192)
	err = eng.Write(ctx, "obj", int64(len(data)), bytes.NewReader(data))
	if errors.KindOf(err) != errors.KindStorageError {
		t.Fatalf("expected KindStorageError, got %v", err)
	}

	if exists, _ := eng.Exists(ctx, "obj"); exists {
		t.Fatal("object should not exist in the index after a rolled-back write")
	}
}

// corruptAllChunkFiles flips the first byte of every regular file under
// dir, simulating on-disk bitrot for TestVerifyDetectsTamperedChunk.
func corruptAllChunkFiles(t *testing.T, dir string) {
	t.Helper()
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return nil
		}
		b[0] ^= 0xFF
		return os.WriteFile(path, b, 0o644)
	})
	if err != nil {
		t.Fatalf("corruptAllChunkFiles: %v", err)
	}
}

func mustLocal(t *testing.T) chunkstore.Store {
	t.Helper()
	s, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	return s
}

// failingStore wraps a real Store and fails every WriteChunk call after the
// first failAfter successful ones, to exercise the engine's rollback path.
type failingStore struct {
	chunkstore.Store
	failAfter int
	writes    int
}

func (f *failingStore) WriteChunk(ctx context.Context, key string, data []byte) error {
	if f.writes >= f.failAfter {
		return errors.Storage(io.ErrClosedPipe, "simulated storage failure")
	}
	f.writes++
	return f.Store.WriteChunk(ctx, key, data)
}
