// Package dedupelog defines the engine's structured progress events. These
// are distinct from internal/debug: debug.Log is a developer trace, while
// EventSink is a typed capability a caller can bind to drive UI or assert
// against in tests.
package dedupelog

import "github.com/google/uuid"

// EventKind identifies the stage of a write/delete operation an Event
// describes.
type EventKind int

const (
	WriteBegin EventKind = iota
	ChunkEmitted
	WriteCommit
	WriteRollback
	DeleteBegin
	DeleteCommit
	Error
)

// Event is a single structured progress notification.
type Event struct {
	Kind EventKind
	Key  string // object key the event concerns
	OpID string // correlates every event belonging to one Write/Delete call

	ChunkKey    string // set for ChunkEmitted
	ChunkLength int
	Deduped     bool // true if ChunkEmitted refers to a chunk that already existed

	Err error // set for WriteRollback (the failure that caused it) and Error
}

// EventSink receives Events. A nil *EventSink-typed value is not valid; use
// NopSink() for a no-op sink.
type EventSink interface {
	Emit(Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// NopSink returns an EventSink that discards every event, the default when
// a caller does not bind one.
func NopSink() EventSink { return nopSink{} }

// FuncSink adapts a plain function to the EventSink interface.
type FuncSink func(Event)

func (f FuncSink) Emit(e Event) { f(e) }

// NewOpID returns a fresh identifier for correlating every event emitted by
// one Write or Delete call, the way a caller would join log lines across a
// multi-chunk operation.
func NewOpID() string { return uuid.NewString() }
