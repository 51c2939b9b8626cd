// Package local implements the chunkstore.Store contract over a local
// directory: chunk bytes are written to a temporary file, fsynced, and
// atomically renamed into place, sharded two levels deep by the first four
// hex-safe characters of the chunk key to keep any one directory small.
package local

import (
	"context"
	"os"
	"path/filepath"

	"github.com/arrowstore/ddstore/internal/debug"
	"github.com/arrowstore/ddstore/internal/errors"
)

// Store writes chunk bytes under a root directory.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindStorageError, "create chunk store root")
	}
	return &Store{root: dir}, nil
}

// shardedPath spreads chunk files across subdirectories so no single
// directory accumulates an unbounded number of entries.
func (s *Store) shardedPath(key string) string {
	safe := sanitizeFilename(key)
	if len(safe) < 4 {
		return filepath.Join(s.root, safe)
	}
	return filepath.Join(s.root, safe[0:2], safe[2:4], safe)
}

// sanitizeFilename maps a base64url fingerprint (which already excludes '/'
// and is filesystem-safe) through unchanged; this indirection exists so a
// provider-supplied chunk key that is not already filesystem-safe can never
// escape the store root.
func sanitizeFilename(key string) string {
	return filepath.Base(filepath.Clean(string(filepath.Separator) + key))
}

func (s *Store) WriteChunk(_ context.Context, key string, data []byte) error {
	path := s.shardedPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.KindStorageError, "create chunk shard directory")
	}

	if _, err := os.Stat(path); err == nil {
		// idempotent: identical bytes under the same key are a no-op.
		debug.Log("chunk %s already present, skipping write", key)
		return nil
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+"-tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.KindStorageError, "create temp chunk file")
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, errors.KindStorageError, "write chunk bytes")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, errors.KindStorageError, "sync chunk file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.KindStorageError, "close chunk file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, errors.KindStorageError, "rename chunk file into place")
	}
	syncDir(dir)

	success = true
	debug.Log("wrote chunk %s (%d bytes)", key, len(data))
	return nil
}

func (s *Store) ReadChunk(_ context.Context, key string) ([]byte, error) {
	path := s.shardedPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.KindStorageError, "chunk %s not found in store", key)
		}
		return nil, errors.Wrapf(err, errors.KindStorageError, "read chunk %s", key)
	}
	return data, nil
}

func (s *Store) DeleteChunk(_ context.Context, key string) error {
	path := s.shardedPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.KindStorageError, "delete chunk %s", key)
	}
	debug.Log("deleted chunk %s", key)
	return nil
}
