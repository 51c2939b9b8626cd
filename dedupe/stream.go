package dedupe

import (
	"context"
	"io"

	"github.com/arrowstore/ddstore/internal/errors"
	"github.com/arrowstore/ddstore/internal/index"
)

// Stream is a seekable, read-only random-access view over a stored object.
// It reads chunks on demand via the engine's chunkstore.Store and holds only
// a reference to the engine, not a copy of the object.
type Stream struct {
	ctx    context.Context
	engine *Engine
	key    string
	length int64
	pos    int64
}

// GetStream opens a Stream over the object under key.
func (e *Engine) GetStream(ctx context.Context, rawKey string) (*Stream, error) {
	key, err := index.Sanitize(rawKey)
	if err != nil {
		return nil, err
	}
	meta, err := e.GetMetadata(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Stream{ctx: ctx, engine: e, key: key, length: meta.OriginalLength}, nil
}

// Len returns the object's original length.
func (s *Stream) Len() int64 { return s.length }

// Read implements io.Reader. Each call touches at most one chunk: the
// returned count may be smaller than len(p) even though more data remains,
// if that data lives in the next chunk.
func (s *Stream) Read(p []byte) (int, error) {
	if s.pos >= s.length {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	m, found, err := s.engine.idx.GetObjectMapForPosition(s.ctx, s.key, s.pos)
	if err != nil {
		return 0, errors.Index(err, "get object map for position")
	}
	if !found {
		return 0, errors.Integrityf("object %s: no map entry covers position %d", s.key, s.pos)
	}

	data, err := s.engine.store.ReadChunk(s.ctx, m.ChunkKey)
	if err != nil {
		return 0, errors.Storage(err, "read chunk")
	}

	inChunkOffset := s.pos - m.ByteAddress
	available := int64(m.ChunkLength) - inChunkOffset
	if available <= 0 || inChunkOffset < 0 || int64(len(data)) < inChunkOffset+available {
		return 0, errors.Integrityf("object %s: chunk %s does not cover position %d", s.key, m.ChunkKey, s.pos)
	}

	n := int64(len(p))
	if n > available {
		n = available
	}
	copy(p, data[inChunkOffset:inChunkOffset+n])
	s.pos += n
	return int(n), nil
}

// Seek implements io.Seeker. Write is intentionally unsupported: the stream
// is read-only.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = s.length + offset
	default:
		return 0, errors.InvalidArgumentf("invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, errors.InvalidArgumentf("seek to negative position %d", newPos)
	}
	if newPos > s.length {
		return 0, errors.InvalidArgumentf("seek past end: %d > %d", newPos, s.length)
	}
	s.pos = newPos
	return s.pos, nil
}

var _ io.ReadSeeker = (*Stream)(nil)
