package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"circled/internal/room"
)

// SQLiteIndex is a read-model index of sessions and broadcasts. It never
// feeds back into room state; populations themselves are not persisted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	// Per-room broadcast sequence, assigned in the writer goroutine.
	seq map[string]uint64
}

type reqKind int

const (
	reqBroadcast reqKind = iota + 1
	reqSessionOpen
	reqSessionClose
)

type req struct {
	kind      reqKind
	broadcast room.BroadcastEntry
	session   sessionRow
}

type sessionRow struct {
	Room   string
	ConnID string
	At     string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		ch:  make(chan req, 8192),
		seq: map[string]uint64{},
	}
	if err := s.loadSeqs(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			room TEXT NOT NULL,
			conn_id TEXT NOT NULL,
			opened_at TEXT NOT NULL,
			closed_at TEXT,
			PRIMARY KEY (room, conn_id)
		);`,
		`CREATE TABLE IF NOT EXISTS broadcasts (
			room TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			circle_id TEXT NOT NULL,
			radius REAL NOT NULL,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (room, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_broadcasts_room_kind ON broadcasts(room, kind);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) loadSeqs() error {
	rows, err := s.db.Query(`SELECT room, MAX(seq) FROM broadcasts GROUP BY room`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var roomID string
		var maxSeq uint64
		if err := rows.Scan(&roomID, &maxSeq); err != nil {
			return err
		}
		s.seq[roomID] = maxSeq
	}
	return rows.Err()
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteBroadcast enqueues one broadcast row, dropping if the indexer falls
// behind; the JSONL journal remains the source of truth.
func (s *SQLiteIndex) WriteBroadcast(e room.BroadcastEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqBroadcast, broadcast: e}:
	default:
	}
	return nil
}

func (s *SQLiteIndex) SessionOpened(roomID, connID string) {
	s.enqueueSession(reqSessionOpen, roomID, connID)
}

func (s *SQLiteIndex) SessionClosed(roomID, connID string) {
	s.enqueueSession(reqSessionClose, roomID, connID)
}

func (s *SQLiteIndex) enqueueSession(kind reqKind, roomID, connID string) {
	if s == nil || s.closed.Load() {
		return
	}
	r := sessionRow{
		Room:   roomID,
		ConnID: connID,
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: kind, session: r}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqBroadcast:
			s.applyBroadcast(r.broadcast)
		case reqSessionOpen:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO sessions(room, conn_id, opened_at, closed_at) VALUES (?, ?, ?, NULL)`,
				r.session.Room, r.session.ConnID, r.session.At,
			)
		case reqSessionClose:
			_, _ = s.db.Exec(
				`UPDATE sessions SET closed_at = ? WHERE room = ? AND conn_id = ?`,
				r.session.At, r.session.Room, r.session.ConnID,
			)
		}
	}
}

func (s *SQLiteIndex) applyBroadcast(e room.BroadcastEntry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.seq[e.Room]++
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO broadcasts(room, seq, kind, circle_id, radius, at, raw_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Room, s.seq[e.Room], e.Kind, e.Circle.ID, e.Circle.Radius,
		e.At.UTC().Format(time.RFC3339Nano), string(raw),
	)
}

// BroadcastsByKind returns per-kind broadcast counts for one room.
func (s *SQLiteIndex) BroadcastsByKind(roomID string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM broadcasts WHERE room = ? GROUP BY kind`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// SessionCounts returns open and closed session counts for one room.
func (s *SQLiteIndex) SessionCounts(roomID string) (open, closed int, err error) {
	err = s.db.QueryRow(
		`SELECT
			COUNT(CASE WHEN closed_at IS NULL THEN 1 END),
			COUNT(CASE WHEN closed_at IS NOT NULL THEN 1 END)
		FROM sessions WHERE room = ?`, roomID,
	).Scan(&open, &closed)
	return open, closed, err
}
