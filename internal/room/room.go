package room

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"circled/internal/protocol"
	"circled/internal/tuning"
)

// JoinRequest attaches a connection's outbound queue to a room.
type JoinRequest struct {
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	ConnID string
}

// BroadcastEntry is one journal line per emitted message.
type BroadcastEntry struct {
	At     time.Time       `json:"at"`
	Room   string          `json:"room"`
	Kind   string          `json:"kind"`
	Circle protocol.Circle `json:"circle"`
}

type BroadcastLogger interface {
	WriteBroadcast(BroadcastEntry) error
}

type SessionLogger interface {
	SessionOpened(roomID, connID string)
	SessionClosed(roomID, connID string)
}

// Stats is a point-in-time view of one room, safe to read from any
// goroutine via Metrics.
type Stats struct {
	Connections int    `json:"connections"`
	Peak        int    `json:"peak_connections"`
	Circles     int    `json:"circles"`
	Spawns      uint64 `json:"spawns"`
	Despawns    uint64 `json:"despawns"`
	Updates     uint64 `json:"updates"`
	StateSends  uint64 `json:"state_sends"`
}

// Room owns one population and its connection counter. All state is mutated
// on the Run goroutine; transports talk to it through Join/Leave channels.
type Room struct {
	id   string
	tune tuning.Tuning
	rng  *rand.Rand

	pop         Population
	conns       int
	clients     map[string]chan []byte
	nextConnNum int

	// Circle ids queued for removal during the current transition,
	// drained before the next event is read.
	pendingDespawns []string

	join  chan JoinRequest
	leave chan string
	stop  chan struct{}

	journal  BroadcastLogger
	sessions SessionLogger

	mu    sync.Mutex
	stats Stats
}

func New(id string, tune tuning.Tuning, seed int64) *Room {
	if tune.MaxClientsPerCircle <= 0 || tune.RadiusStep <= 0 {
		tune = tuning.Defaults()
	}
	return &Room{
		id:      id,
		tune:    tune,
		rng:     rand.New(rand.NewSource(seed)),
		clients: map[string]chan []byte{},
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		stop:    make(chan struct{}),
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) SetJournal(l BroadcastLogger)  { r.journal = l }
func (r *Room) SetSessionLog(l SessionLogger) { r.sessions = l }

func (r *Room) Join() chan<- JoinRequest { return r.join }
func (r *Room) Leave() chan<- string     { return r.leave }

func (r *Room) Metrics() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Room) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.join:
			r.handleJoin(req)
			r.drainDespawns()
		case id := <-r.leave:
			r.handleLeave(id)
			r.drainDespawns()
		}
	}
}

func (r *Room) Stop() { close(r.stop) }

func (r *Room) handleJoin(req JoinRequest) {
	r.nextConnNum++
	connID := fmt.Sprintf("c%d", r.nextConnNum)
	if req.Out != nil {
		r.clients[connID] = req.Out
	}
	if r.sessions != nil {
		r.sessions.SessionOpened(r.id, connID)
	}

	old := r.conns
	r.conns++
	r.onCountChange(old, r.conns)

	// Full snapshot to the joining connection only, after the broadcast.
	r.sendState(req.Out)

	if req.Resp != nil {
		req.Resp <- JoinResponse{ConnID: connID}
	}
	r.syncStats()
}

func (r *Room) handleLeave(connID string) {
	out, ok := r.clients[connID]
	if !ok {
		return
	}
	delete(r.clients, connID)
	if r.sessions != nil {
		r.sessions.SessionClosed(r.id, connID)
	}

	old := r.conns
	if r.conns > 0 {
		r.conns--
	}
	r.onCountChange(old, r.conns)

	// Symmetric with the join path; for a closed socket this goes nowhere.
	r.sendState(out)
	r.syncStats()
}

// onCountChange is the population transition handler, invoked for every
// connection-count change. It mutates at most one circle's radius, may
// create a circle, and emits at most one message.
func (r *Room) onCountChange(oldCount, newCount int) {
	if newCount == 0 {
		// The population keeps whatever state it had when the last
		// connection closed.
		return
	}

	created := false
	if oldCount == 0 && newCount == 1 && r.pop.Len() == 0 {
		// Bootstrap circle. Deliberately unwatched: it is never
		// removed, even at radius zero.
		r.pop.Append(r.newCircle())
		created = true
	}

	kind := protocol.KindUpdate
	if newCount > oldCount && newCount%r.tune.MaxClientsPerCircle == 0 {
		// Capacity threshold crossed upward: a fresh active circle
		// takes over the new shard.
		kind = protocol.KindSpawn
		c := r.newCircle()
		c.watched = true
		r.pop.Append(c)
		created = true
	}

	active := r.pop.Active()
	if active == nil {
		return
	}
	if !created {
		// A creating transition's contribution is the spawn radius
		// itself; only the others step the active circle.
		switch {
		case newCount > oldCount:
			active.IncreaseRadius(r.tune.RadiusStep)
		case newCount < oldCount:
			active.DecreaseRadius(r.tune.RadiusStep)
		}
		if active.watched && active.Radius <= 0 {
			r.queueDespawn(active.ID)
		}
	}

	r.broadcast(kind, active.Snapshot())
}

func (r *Room) newCircle() *Circle {
	return newCircle(r.rng, r.tune)
}

func (r *Room) queueDespawn(id string) {
	for _, q := range r.pendingDespawns {
		if q == id {
			return
		}
	}
	r.pendingDespawns = append(r.pendingDespawns, id)
}

// drainDespawns applies removals queued during the last transition. It runs
// after the handler returns and before the next event is read; ids are
// resolved against the store at removal time.
func (r *Room) drainDespawns() {
	if len(r.pendingDespawns) == 0 {
		return
	}
	queued := r.pendingDespawns
	r.pendingDespawns = nil
	for _, id := range queued {
		c, ok := r.pop.RemoveByID(id)
		if !ok {
			continue
		}
		r.broadcast(protocol.KindDespawn, c.Snapshot())
	}
	r.syncStats()
}

func (r *Room) broadcast(kind string, c protocol.Circle) {
	b, err := protocol.EncodeCircle(kind, c)
	if err != nil {
		return
	}
	for _, out := range r.clients {
		sendLatest(out, b)
	}
	if r.journal != nil {
		_ = r.journal.WriteBroadcast(BroadcastEntry{
			At:     time.Now().UTC(),
			Room:   r.id,
			Kind:   kind,
			Circle: c,
		})
	}
	r.countBroadcast(kind)
}

func (r *Room) sendState(out chan []byte) {
	if out == nil {
		return
	}
	b, err := protocol.EncodeState(r.pop.Snapshot())
	if err != nil {
		return
	}
	sendLatest(out, b)
	r.mu.Lock()
	r.stats.StateSends++
	r.mu.Unlock()
}

func (r *Room) countBroadcast(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case protocol.KindSpawn:
		r.stats.Spawns++
	case protocol.KindDespawn:
		r.stats.Despawns++
	case protocol.KindUpdate:
		r.stats.Updates++
	}
}

func (r *Room) syncStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Connections = r.conns
	if r.conns > r.stats.Peak {
		r.stats.Peak = r.conns
	}
	r.stats.Circles = r.pop.Len()
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
