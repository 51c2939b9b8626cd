// Package sqlite provides the default index.Provider implementation,
// backed by an embedded SQLite database (spec.md §4.3, §6 "Default
// provider persists rows in an embedded relational store"). It follows
// the shape of kluzzebass-gastrolog's internal/config/sqlite store: a
// single serialized *sql.DB connection, embedded migrations, and
// context-scoped queries.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/arrowstore/ddstore/internal/debug"
	"github.com/arrowstore/ddstore/internal/errors"
	"github.com/arrowstore/ddstore/internal/index"
)

// Store is a SQLite-backed index.Provider. Every mutating operation is
// guarded by one or more of configMu, objectMu, chunkMu, always acquired
// in the order {config, object, chunk} per spec.md §5.
type Store struct {
	db   *sql.DB
	path string

	configMu sync.Mutex
	objectMu sync.Mutex
	chunkMu  sync.Mutex
}

var _ index.Provider = (*Store)(nil)

// Open opens (creating if necessary) a SQLite index at path and runs
// pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.KindIndexError, "create index directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindIndexError, "open sqlite")
	}

	// A single writer connection avoids SQLITE_BUSY storms; cross-process
	// contention is still handled by retryWithBackoff below.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindIndexError, "set journal_mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindIndexError, "set foreign_keys")
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	debug.Log("opened sqlite index at %s", path)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// retryWithBackoff retries fn while the sqlite driver reports the database
// as locked, which happens when more than one OS process opens the same
// index file concurrently (spec.md §5 makes no in-process contention
// promise stronger than this).
func retryWithBackoff(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

func isBusy(err error) bool {
	return containsAny(err.Error(), "database is locked", "SQLITE_BUSY", "database table is locked")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (s *Store) IsInitialized(ctx context.Context) (bool, error) {
	var count int
	err := retryWithBackoff(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT count(*) FROM config").Scan(&count)
	})
	if err != nil {
		return false, errors.Index(err, "check initialization")
	}
	return count > 0, nil
}

func (s *Store) AddConfigValue(ctx context.Context, key, value string) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	return retryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO config (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return errors.Index(err, "add config value")
		}
		return nil
	})
}

func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	var value string
	err := retryWithBackoff(ctx, func() error {
		row := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key)
		return row.Scan(&value)
	})
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Index(err, "get config value")
	}
	return value, true, nil
}

func (s *Store) GetStatistics(ctx context.Context) (index.Stats, error) {
	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()

	var stats index.Stats
	err := retryWithBackoff(ctx, func() error {
		if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM object").Scan(&stats.Objects); err != nil {
			return err
		}
		if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM chunk").Scan(&stats.Chunks); err != nil {
			return err
		}
		var logical, physical sql.NullInt64
		if err := s.db.QueryRowContext(ctx,
			"SELECT sum(length * refcount), sum(length) FROM chunk").Scan(&logical, &physical); err != nil {
			return err
		}
		stats.LogicalBytes = logical.Int64
		stats.PhysicalBytes = physical.Int64
		return nil
	})
	if err != nil {
		return index.Stats{}, errors.Index(err, "get statistics")
	}
	return stats, nil
}

func (s *Store) ListObjects(ctx context.Context, prefix string, indexStart int64, maxResults int) (index.ObjectPage, error) {
	if maxResults < 1 || maxResults > 100 {
		return index.ObjectPage{}, errors.InvalidArgumentf("max_results must be in [1,100], got %d", maxResults)
	}
	if indexStart < 0 {
		return index.ObjectPage{}, errors.InvalidArgumentf("index_start must be >= 0, got %d", indexStart)
	}

	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	var page index.ObjectPage
	err := retryWithBackoff(ctx, func() error {
		query := `SELECT id, key, original_length, compressed_length, chunk_count, created_utc
		          FROM object WHERE id > ?`
		args := []interface{}{indexStart}
		if prefix != "" {
			query += " AND key LIKE ? ESCAPE '\\'"
			args = append(args, escapeLike(prefix)+"%")
		}
		query += " ORDER BY id ASC LIMIT ?"
		args = append(args, maxResults)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		var objs []index.Object
		for rows.Next() {
			var o index.Object
			var created string
			if err := rows.Scan(&o.ID, &o.Key, &o.OriginalLength, &o.CompressedLength, &o.ChunkCount, &created); err != nil {
				return err
			}
			o.CreatedUTC, _ = time.Parse(time.RFC3339Nano, created)
			objs = append(objs, o)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		next := indexStart
		if len(objs) == maxResults {
			next = objs[len(objs)-1].ID
		}
		page = index.ObjectPage{Objects: objs, NextIndexStart: next}
		return nil
	})
	if err != nil {
		return index.ObjectPage{}, errors.Index(err, "list objects")
	}
	return page, nil
}

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			r = append(r, '\\')
		}
		r = append(r, s[i])
	}
	return string(r)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	var count int
	err := retryWithBackoff(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT count(*) FROM object WHERE key = ?", key).Scan(&count)
	})
	if err != nil {
		return false, errors.Index(err, "check existence")
	}
	return count > 0, nil
}

func (s *Store) GetObjectMetadata(ctx context.Context, key string) (index.ObjectDetail, bool, error) {
	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	var detail index.ObjectDetail
	found := false
	err := retryWithBackoff(ctx, func() error {
		var o index.Object
		var created string
		row := s.db.QueryRowContext(ctx,
			`SELECT id, key, original_length, compressed_length, chunk_count, created_utc
			 FROM object WHERE key = ?`, key)
		if err := row.Scan(&o.ID, &o.Key, &o.OriginalLength, &o.CompressedLength, &o.ChunkCount, &created); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		o.CreatedUTC, _ = time.Parse(time.RFC3339Nano, created)
		found = true

		rows, err := s.db.QueryContext(ctx,
			`SELECT id, object_key, chunk_key, chunk_length, chunk_ordinal, chunk_address
			 FROM object_map WHERE object_key = ? ORDER BY chunk_address ASC`, key)
		if err != nil {
			return err
		}
		defer rows.Close()

		var entries []index.ObjectMapEntry
		chunkKeys := map[string]bool{}
		for rows.Next() {
			var m index.ObjectMapEntry
			if err := rows.Scan(&m.ID, &m.ObjectKey, &m.ChunkKey, &m.ChunkLength, &m.OrdinalPos, &m.ByteAddress); err != nil {
				return err
			}
			entries = append(entries, m)
			chunkKeys[m.ChunkKey] = true
		}
		if err := rows.Err(); err != nil {
			return err
		}

		var chunks []index.Chunk
		for ck := range chunkKeys {
			var c index.Chunk
			err := s.db.QueryRowContext(ctx, "SELECT id, key, length, refcount FROM chunk WHERE key = ?", ck).
				Scan(&c.ID, &c.Key, &c.Length, &c.Refcount)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			if err == nil {
				chunks = append(chunks, c)
			}
		}

		detail = index.ObjectDetail{Object: o, Map: entries, Chunks: chunks}
		return nil
	})
	if err != nil {
		return index.ObjectDetail{}, false, errors.Index(err, "get object metadata")
	}
	return detail, found, nil
}

func (s *Store) GetChunkMetadata(ctx context.Context, chunkKey string) (index.Chunk, bool, error) {
	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()
	return s.getChunkMetadataLocked(ctx, chunkKey)
}

func (s *Store) getChunkMetadataLocked(ctx context.Context, chunkKey string) (index.Chunk, bool, error) {
	var c index.Chunk
	found := false
	err := retryWithBackoff(ctx, func() error {
		row := s.db.QueryRowContext(ctx, "SELECT id, key, length, refcount FROM chunk WHERE key = ?", chunkKey)
		err := row.Scan(&c.ID, &c.Key, &c.Length, &c.Refcount)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return index.Chunk{}, false, errors.Index(err, "get chunk metadata")
	}
	return c, found, nil
}

func (s *Store) GetObjectMap(ctx context.Context, key string) ([]index.ObjectMapEntry, error) {
	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	var entries []index.ObjectMapEntry
	err := retryWithBackoff(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, object_key, chunk_key, chunk_length, chunk_ordinal, chunk_address
			 FROM object_map WHERE object_key = ?`, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m index.ObjectMapEntry
			if err := rows.Scan(&m.ID, &m.ObjectKey, &m.ChunkKey, &m.ChunkLength, &m.OrdinalPos, &m.ByteAddress); err != nil {
				return err
			}
			entries = append(entries, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Index(err, "get object map")
	}
	return entries, nil
}

func (s *Store) GetObjectMapForPosition(ctx context.Context, key string, pos int64) (index.ObjectMapEntry, bool, error) {
	if pos < 0 {
		return index.ObjectMapEntry{}, false, errors.InvalidArgumentf("position must be >= 0, got %d", pos)
	}

	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	var m index.ObjectMapEntry
	found := false
	err := retryWithBackoff(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, object_key, chunk_key, chunk_length, chunk_ordinal, chunk_address
			 FROM object_map
			 WHERE object_key = ? AND chunk_address <= ? AND ? < chunk_address + chunk_length`,
			key, pos, pos)
		err := row.Scan(&m.ID, &m.ObjectKey, &m.ChunkKey, &m.ChunkLength, &m.OrdinalPos, &m.ByteAddress)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return index.ObjectMapEntry{}, false, errors.Index(err, "get object map for position")
	}
	return m, found, nil
}

func (s *Store) AddObject(ctx context.Context, key string, originalLen, compressedLen int64, chunkCount int) error {
	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	return retryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO object (key, original_length, compressed_length, chunk_count, created_utc)
			 VALUES (?, ?, ?, ?, ?)`,
			key, originalLen, compressedLen, chunkCount, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			if isUniqueViolation(err) {
				return errors.AlreadyExists(key)
			}
			return errors.Index(err, "add object")
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	return containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func (s *Store) AddObjectMap(ctx context.Context, objectKey, chunkKey string, length int, ordinal int, address int64) error {
	s.objectMu.Lock()
	defer s.objectMu.Unlock()

	return retryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO object_map (object_key, chunk_key, chunk_length, chunk_ordinal, chunk_address)
			 VALUES (?, ?, ?, ?, ?)`, objectKey, chunkKey, length, ordinal, address)
		if err != nil {
			return errors.Index(err, "add object map entry")
		}
		return nil
	})
}

func (s *Store) IncrementChunkRefcount(ctx context.Context, chunkKey string, length int) (bool, error) {
	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()

	created := false
	err := retryWithBackoff(ctx, func() error {
		_, found, err := s.getChunkMetadataLocked(ctx, chunkKey)
		if err != nil {
			return err
		}
		if found {
			_, err := s.db.ExecContext(ctx, "UPDATE chunk SET refcount = refcount + 1 WHERE key = ?", chunkKey)
			if err != nil {
				return err
			}
			created = false
			return nil
		}
		_, err = s.db.ExecContext(ctx, "INSERT INTO chunk (key, length, refcount) VALUES (?, ?, 1)", chunkKey, length)
		if err != nil {
			if isUniqueViolation(err) {
				// lost a race with a concurrent increment for the same key;
				// the row now exists, fall back to incrementing it.
				_, err = s.db.ExecContext(ctx, "UPDATE chunk SET refcount = refcount + 1 WHERE key = ?", chunkKey)
				created = false
				return err
			}
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, errors.Index(err, "increment chunk refcount")
	}
	return created, nil
}

func (s *Store) DecrementChunkRefcount(ctx context.Context, chunkKey string) (bool, error) {
	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()

	shouldGC := false
	err := retryWithBackoff(ctx, func() error {
		c, found, err := s.getChunkMetadataLocked(ctx, chunkKey)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if c.Refcount <= 1 {
			if _, err := s.db.ExecContext(ctx, "DELETE FROM chunk WHERE key = ?", chunkKey); err != nil {
				return err
			}
			shouldGC = true
			return nil
		}
		_, err = s.db.ExecContext(ctx, "UPDATE chunk SET refcount = refcount - 1 WHERE key = ?", chunkKey)
		return err
	})
	if err != nil {
		return false, errors.Index(err, "decrement chunk refcount")
	}
	return shouldGC, nil
}

// Delete removes the object row (if any) and every object_map row for key,
// decrements the refcount of each distinct chunk key those map rows
// referenced once, and returns the chunk keys whose row was removed because
// the refcount reached zero. It tolerates
// a write that failed before AddObject ran: a write's rollback calls Delete
// on a key that only has object_map rows committed so far (spec.md §4.4
// "rolled back on failure"), and those orphaned map rows and the chunk
// refcounts behind them must still be cleaned up. Delete reports NotFound
// only when neither an object row nor any object_map row exists for key.
func (s *Store) Delete(ctx context.Context, key string) ([]string, error) {
	s.objectMu.Lock()
	var chunkKeys []string
	err := retryWithBackoff(ctx, func() error {
		chunkKeys = chunkKeys[:0]
		var objectExists bool
		var id int64
		switch err := s.db.QueryRowContext(ctx, "SELECT id FROM object WHERE key = ?", key).Scan(&id); err {
		case nil:
			objectExists = true
		case sql.ErrNoRows:
			objectExists = false
		default:
			return err
		}

		rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT chunk_key FROM object_map WHERE object_key = ?", key)
		if err != nil {
			return err
		}
		for rows.Next() {
			var ck string
			if err := rows.Scan(&ck); err != nil {
				rows.Close()
				return err
			}
			chunkKeys = append(chunkKeys, ck)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if !objectExists && len(chunkKeys) == 0 {
			return errors.NotFound("object", key)
		}

		if _, err := s.db.ExecContext(ctx, "DELETE FROM object_map WHERE object_key = ?", key); err != nil {
			return err
		}
		if objectExists {
			if _, err := s.db.ExecContext(ctx, "DELETE FROM object WHERE key = ?", key); err != nil {
				return err
			}
		}
		return nil
	})
	s.objectMu.Unlock()
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return nil, err
		}
		return nil, errors.Index(err, "delete object")
	}

	var gc []string
	s.chunkMu.Lock()
	for _, ck := range chunkKeys {
		var shouldGC bool
		gcErr := retryWithBackoff(ctx, func() error {
			c, found, err := s.getChunkMetadataLocked(ctx, ck)
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			if c.Refcount <= 1 {
				if _, err := s.db.ExecContext(ctx, "DELETE FROM chunk WHERE key = ?", ck); err != nil {
					return err
				}
				shouldGC = true
				return nil
			}
			_, err = s.db.ExecContext(ctx, "UPDATE chunk SET refcount = refcount - 1 WHERE key = ?", ck)
			return err
		})
		if gcErr != nil {
			s.chunkMu.Unlock()
			return nil, errors.Index(gcErr, "decrement chunk refcount during delete")
		}
		if shouldGC {
			gc = append(gc, ck)
		}
	}
	s.chunkMu.Unlock()

	return gc, nil
}
