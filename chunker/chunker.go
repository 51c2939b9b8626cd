package chunker

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/arrowstore/ddstore/internal/errors"
)

// Params are the four durable chunking parameters persisted alongside an
// index at creation time and re-validated on every subsequent open.
type Params struct {
	MinChunkSize       int
	MaxChunkSize       int
	ShiftCount         int
	BoundaryCheckBytes int
}

// DefaultParams are reasonable defaults for general-purpose content: chunks
// are at least 32 KiB (except a final tail) and at most 256 KiB.
var DefaultParams = Params{
	MinChunkSize:       32768,
	MaxChunkSize:       262144,
	ShiftCount:         2048,
	BoundaryCheckBytes: 2,
}

// Validate checks that p describes a consistent set of chunking parameters.
func (p Params) Validate() error {
	switch {
	case p.MinChunkSize < 256:
		return errors.InvalidArgumentf("min_chunk_size must be >= 256, got %d", p.MinChunkSize)
	case p.MinChunkSize%64 != 0:
		return errors.InvalidArgumentf("min_chunk_size must be divisible by 64, got %d", p.MinChunkSize)
	case p.MaxChunkSize%64 != 0:
		return errors.InvalidArgumentf("max_chunk_size must be divisible by 64, got %d", p.MaxChunkSize)
	case p.MaxChunkSize < 8*p.MinChunkSize:
		return errors.InvalidArgumentf("max_chunk_size must be >= 8*min_chunk_size, got %d", p.MaxChunkSize)
	case p.ShiftCount <= 1 || p.ShiftCount > p.MinChunkSize:
		return errors.InvalidArgumentf("shift_count must satisfy 1 < shift_count <= min_chunk_size, got %d", p.ShiftCount)
	case p.BoundaryCheckBytes < 1 || p.BoundaryCheckBytes > 4:
		return errors.InvalidArgumentf("boundary_check_bytes must be in [1,4], got %d", p.BoundaryCheckBytes)
	}
	return nil
}

// Chunk is one content-defined chunk emitted by the chunker.
type Chunk struct {
	Bytes   []byte
	Address int64 // byte offset within the original object
	Ordinal int    // 0-based position in the object's chunk sequence
	Key     string // base64url(SHA-256(Bytes))
}

// Key returns the base64url-encoded SHA-256 fingerprint of data. Two chunks
// with the same bytes always produce the same key, which is what makes
// content-addressed deduplication possible.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Chunker drives a sliding window over a source of known length and emits
// chunks according to a length-limited, content-defined boundary predicate:
// each window's MD5 hash is checked for a run of leading zero bytes, and a
// chunk boundary is declared wherever one is found.
type Chunker struct {
	params Params
	win    *window

	singleDone bool
	loopDone   bool
	ordinal    int
}

// New builds a Chunker over src, which must yield exactly contentLength
// bytes.
func New(src io.Reader, contentLength int64, params Params) (*Chunker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if contentLength < 1 {
		return nil, errors.InvalidArgumentf("content_length must be > 0, got %d", contentLength)
	}
	return &Chunker{
		params: params,
		win:    newWindow(src, contentLength, params.MinChunkSize, params.ShiftCount),
	}, nil
}

// Next returns the next chunk, or io.EOF once the source is exhausted.
func (c *Chunker) Next() (Chunk, error) {
	return c.next()
}

// Each drives the chunker to completion, invoking fn for every chunk in
// ordinal order. It stops and returns fn's error immediately if fn fails.
func (c *Chunker) Each(fn func(Chunk) error) error {
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}

func (c *Chunker) next() (Chunk, error) {
	if c.win.length <= int64(c.params.MinChunkSize) {
		return c.singleShot()
	}
	return c.driveLoop()
}

// singleShot handles the case where content_length <= min_chunk_size: the
// whole source is emitted as a single chunk 0, since it can never reach the
// minimum size needed to look for an interior boundary.
func (c *Chunker) singleShot() (Chunk, error) {
	if c.singleDone {
		return Chunk{}, io.EOF
	}
	c.singleDone = true
	data, _, _, _, err := c.win.getNextWindow()
	if err != nil {
		return Chunk{}, errors.Wrap(err, errors.KindStorageError, "read source")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return Chunk{Bytes: buf, Address: 0, Ordinal: 0, Key: Key(buf)}, nil
}

// driveLoop implements the general multi-window algorithm. It accumulates
// chunk bytes across getNextWindow calls until a boundary is declared (via
// the MD5 predicate or the max-size cap) or the source is exhausted, then
// returns exactly one chunk and leaves enough state to resume on the next
// call.
func (c *Chunker) driveLoop() (Chunk, error) {
	if c.loopDone {
		return Chunk{}, io.EOF
	}

	var current []byte
	var startAddr int64

	for {
		data, tail, pos, final, err := c.win.getNextWindow()
		if err != nil {
			return Chunk{}, errors.Wrap(err, errors.KindStorageError, "read source")
		}

		if current == nil {
			startAddr = pos
			current = append(current, data...)
		} else {
			current = append(current, data[len(data)-tail:]...)
		}

		h := md5.Sum(data)
		boundary := isZero(h[:c.params.BoundaryCheckBytes])
		forced := len(current) >= c.params.MaxChunkSize

		if boundary || forced {
			chunk := c.emit(current, startAddr)
			c.win.advanceToNewChunk()
			if final {
				c.loopDone = true
			}
			return chunk, nil
		}

		if final {
			c.loopDone = true
			if len(current) == 0 {
				return Chunk{}, io.EOF
			}
			return c.emit(current, startAddr), nil
		}
	}
}

func (c *Chunker) emit(data []byte, addr int64) Chunk {
	buf := make([]byte, len(data))
	copy(buf, data)
	ord := c.ordinal
	c.ordinal++
	return Chunk{Bytes: buf, Address: addr, Ordinal: ord, Key: Key(buf)}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
