package indexdb

import (
	"path/filepath"
	"testing"
	"time"

	"circled/internal/protocol"
	"circled/internal/room"
)

func entry(roomID, kind, circleID string, radius float64) room.BroadcastEntry {
	return room.BroadcastEntry{
		At:     time.Now().UTC(),
		Room:   roomID,
		Kind:   kind,
		Circle: protocol.Circle{Radius: radius, VX: 0.002, VY: 0.003, ID: circleID},
	}
}

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idx.SessionOpened("lobby", "c1")
	idx.SessionOpened("lobby", "c2")
	idx.SessionClosed("lobby", "c2")
	_ = idx.WriteBroadcast(entry("lobby", protocol.KindUpdate, "a", 0.01))
	_ = idx.WriteBroadcast(entry("lobby", protocol.KindUpdate, "a", 0.02))
	_ = idx.WriteBroadcast(entry("lobby", protocol.KindSpawn, "b", 0.01))
	_ = idx.WriteBroadcast(entry("other", protocol.KindUpdate, "z", 0.01))
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	kinds, err := idx.BroadcastsByKind("lobby")
	if err != nil {
		t.Fatalf("broadcasts by kind: %v", err)
	}
	if kinds[protocol.KindUpdate] != 2 || kinds[protocol.KindSpawn] != 1 {
		t.Fatalf("kinds = %v, want update:2 spawn:1", kinds)
	}

	open, closed, err := idx.SessionCounts("lobby")
	if err != nil {
		t.Fatalf("session counts: %v", err)
	}
	if open != 1 || closed != 1 {
		t.Fatalf("sessions open=%d closed=%d, want 1/1", open, closed)
	}
}

func TestIndexSequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.WriteBroadcast(entry("lobby", protocol.KindUpdate, "a", 0.01))
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = idx.WriteBroadcast(entry("lobby", protocol.KindUpdate, "a", 0.02))
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	kinds, err := idx.BroadcastsByKind("lobby")
	if err != nil {
		t.Fatalf("broadcasts by kind: %v", err)
	}
	// A stale restart sequence would overwrite row 1 instead of appending.
	if kinds[protocol.KindUpdate] != 2 {
		t.Fatalf("update count = %d, want 2 across restarts", kinds[protocol.KindUpdate])
	}
}

func TestWritesAfterCloseAreDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.WriteBroadcast(entry("lobby", protocol.KindUpdate, "a", 0.01)); err != nil {
		t.Fatalf("write after close must be a silent drop, got %v", err)
	}
	idx.SessionOpened("lobby", "c1")
	idx.SessionClosed("lobby", "c1")
}
