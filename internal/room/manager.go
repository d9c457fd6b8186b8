package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"circled/internal/tuning"
)

// RoomInfo is returned by the API for the room list.
type RoomInfo struct {
	ID string `json:"id"`
	Stats
}

// Manager holds rooms by id, creating them on first use. Rooms live for the
// process lifetime: a population must survive its last connection closing,
// so there is no on-empty removal.
type Manager struct {
	ctx      context.Context
	tune     tuning.Tuning
	journal  BroadcastLogger
	sessions SessionLogger

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewManager(ctx context.Context, tune tuning.Tuning) *Manager {
	return &Manager{
		ctx:   ctx,
		tune:  tune,
		rooms: make(map[string]*Room),
	}
}

// SetJournal applies to rooms created afterwards; call before serving.
func (m *Manager) SetJournal(l BroadcastLogger)  { m.journal = l }
func (m *Manager) SetSessionLog(l SessionLogger) { m.sessions = l }

// GetOrCreate returns the room for the given id, creating and starting it
// if needed.
func (m *Manager) GetOrCreate(id string) *Room {
	m.mu.RLock()
	r, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		return r
	}
	r = New(id, m.tune, time.Now().UnixNano())
	r.SetJournal(m.journal)
	r.SetSessionLog(m.sessions)
	m.rooms[id] = r
	go func() { _ = r.Run(m.ctx) }()
	return r
}

func (m *Manager) Get(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// List returns a stats snapshot of every room, sorted by id.
func (m *Manager) List() []RoomInfo {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomInfo{ID: r.ID(), Stats: r.Metrics()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
