package chunker

import (
	"bytes"
	"io"
	"testing"
)

func TestWindowFirstCallFillsMinChunkSize(t *testing.T) {
	data := getRandom(1, 1000)
	w := newWindow(bytes.NewReader(data), int64(len(data)), 100, 10)

	got, tail, pos, final, err := w.getNextWindow()
	if err != nil {
		t.Fatalf("getNextWindow: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected a 100-byte window, got %d", len(got))
	}
	if tail != 100 {
		t.Fatalf("expected 100 fresh bytes on first call, got %d", tail)
	}
	if pos != 0 {
		t.Fatalf("expected first window to start at 0, got %d", pos)
	}
	if final {
		t.Fatal("window should not be final with 900 bytes remaining")
	}
	if !bytes.Equal(got, data[:100]) {
		t.Fatal("first window does not match source prefix")
	}
}

func TestWindowShiftsForward(t *testing.T) {
	data := getRandom(2, 1000)
	w := newWindow(bytes.NewReader(data), int64(len(data)), 100, 10)

	if _, _, _, _, err := w.getNextWindow(); err != nil {
		t.Fatalf("getNextWindow: %v", err)
	}

	got, tail, pos, _, err := w.getNextWindow()
	if err != nil {
		t.Fatalf("getNextWindow: %v", err)
	}
	if tail != 10 {
		t.Fatalf("expected shift_count (10) fresh bytes, got %d", tail)
	}
	if pos != 10 {
		t.Fatalf("expected window to start at 10 after one shift, got %d", pos)
	}
	if !bytes.Equal(got, data[10:110]) {
		t.Fatal("shifted window does not match expected source slice")
	}
}

func TestWindowReachesFinalAtShortSource(t *testing.T) {
	data := getRandom(3, 50)
	w := newWindow(bytes.NewReader(data), int64(len(data)), 100, 10)

	got, _, _, final, err := w.getNextWindow()
	if err != nil {
		t.Fatalf("getNextWindow: %v", err)
	}
	if !final {
		t.Fatal("expected isFinal when source is shorter than min_chunk_size")
	}
	if len(got) != 50 {
		t.Fatalf("expected a 50-byte window over a 50-byte source, got %d", len(got))
	}
}

func TestWindowAdvanceToNewChunkResetsState(t *testing.T) {
	data := getRandom(4, 1000)
	w := newWindow(bytes.NewReader(data), int64(len(data)), 100, 10)

	if _, _, _, _, err := w.getNextWindow(); err != nil {
		t.Fatalf("getNextWindow: %v", err)
	}
	if _, _, _, _, err := w.getNextWindow(); err != nil {
		t.Fatalf("getNextWindow: %v", err)
	}
	w.advanceToNewChunk()

	got, tail, pos, _, err := w.getNextWindow()
	if err != nil {
		t.Fatalf("getNextWindow after advance: %v", err)
	}
	if tail != 100 {
		t.Fatalf("expected a fresh full window of 100 bytes after advance, got %d new bytes", tail)
	}
	// two prior calls consumed 100 then 10 bytes from the source (100 on the
	// initial fill, shift_count=10 on the shift), so the new window after
	// advanceToNewChunk resumes at source offset 110.
	if pos != 110 {
		t.Fatalf("expected the new window to start at the consumed source offset (110), got %d", pos)
	}
	if !bytes.Equal(got, data[110:210]) {
		t.Fatal("window after advanceToNewChunk does not match expected source slice")
	}
}

func TestWindowEventuallyExhaustsSource(t *testing.T) {
	data := getRandom(5, 105)
	w := newWindow(bytes.NewReader(data), int64(len(data)), 100, 10)

	var last bool
	for i := 0; i < 100 && !last; i++ {
		_, _, _, final, err := w.getNextWindow()
		if err != nil && err != io.EOF {
			t.Fatalf("getNextWindow: %v", err)
		}
		last = final
	}
	if !last {
		t.Fatal("window never reported isFinal over a 105-byte source")
	}
}
