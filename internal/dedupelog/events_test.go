package dedupelog

import "testing"

func TestNopSinkDiscardsEvents(t *testing.T) {
	sink := NopSink()
	// must not panic, and carries no state to assert against.
	sink.Emit(Event{Kind: WriteBegin, Key: "k"})
}

func TestFuncSinkInvokesFunction(t *testing.T) {
	var got []Event
	sink := FuncSink(func(e Event) { got = append(got, e) })

	sink.Emit(Event{Kind: WriteBegin, Key: "a"})
	sink.Emit(Event{Kind: ChunkEmitted, Key: "a", ChunkKey: "c1", ChunkLength: 10, Deduped: true})
	sink.Emit(Event{Kind: WriteCommit, Key: "a"})

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[1].Kind != ChunkEmitted || !got[1].Deduped || got[1].ChunkKey != "c1" {
		t.Fatalf("unexpected middle event: %+v", got[1])
	}
}

func TestNewOpIDIsUnique(t *testing.T) {
	a, b := NewOpID(), NewOpID()
	if a == "" || b == "" {
		t.Fatal("NewOpID returned an empty string")
	}
	if a == b {
		t.Fatal("two calls to NewOpID produced the same id")
	}
}
