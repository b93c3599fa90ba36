package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"social-realtime/internal/observability"
)

// Handle is one live connection as seen by the registry.
type Handle interface {
	ConnID() string
	Close() error
}

// Store persists the derived isOnline/lastSeen flags.
type Store interface {
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

type entry struct {
	conns         map[string]Handle
	lastHeartbeat time.Time
}

// Registry tracks which users have at least one live connection.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	// writeMu serializes store writes so the persisted flag converges on the
	// registry state at the time of the last write.
	writeMu sync.Mutex

	store  Store
	notify func(online []string)
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry builds a registry. notify receives the online list after each presence change.
func NewRegistry(store Store, notify func(online []string), logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func([]string) {}
	}
	return &Registry{
		entries: make(map[string]*entry),
		store:   store,
		notify:  notify,
		logger:  logger,
		now:     time.Now,
	}
}

// Connect adds the handle; the first connection of a user marks them online.
func (r *Registry) Connect(ctx context.Context, userID string, h Handle) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{conns: make(map[string]Handle)}
		r.entries[userID] = e
	}
	first := len(e.conns) == 0
	e.conns[h.ConnID()] = h
	e.lastHeartbeat = r.now()
	r.mu.Unlock()

	if first {
		r.changed(ctx, userID)
	}
}

// Heartbeat refreshes the user's liveness timestamp. It reports false for unknown users.
func (r *Registry) Heartbeat(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	e.lastHeartbeat = r.now()
	return true
}

// Disconnect removes the handle and reports whether that took the user offline.
func (r *Registry) Disconnect(ctx context.Context, userID string, h Handle) bool {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, present := e.conns[h.ConnID()]; !present {
		r.mu.Unlock()
		return false
	}
	delete(e.conns, h.ConnID())
	last := len(e.conns) == 0
	if last {
		delete(r.entries, userID)
	}
	r.mu.Unlock()

	if last {
		r.changed(ctx, userID)
	}
	return last
}

// EvictStale removes every user whose last heartbeat is before cutoff, closes
// their handles and broadcasts the online list once. It returns the evicted users.
func (r *Registry) EvictStale(ctx context.Context, cutoff time.Time) []string {
	r.mu.Lock()
	var evicted []string
	var handles []Handle
	for userID, e := range r.entries {
		if !e.lastHeartbeat.Before(cutoff) {
			continue
		}
		evicted = append(evicted, userID)
		for _, h := range e.conns {
			handles = append(handles, h)
		}
		delete(r.entries, userID)
	}
	r.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}
	sort.Strings(evicted)
	for _, h := range handles {
		if err := h.Close(); err != nil {
			r.logger.Debug("close stale connection", "conn_id", h.ConnID(), "error", err)
		}
	}
	for _, userID := range evicted {
		r.persist(ctx, userID)
	}
	r.broadcast()
	return evicted
}

// OnlineUsers returns the sorted ids of users with at least one connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[userID]
	return ok
}

func (r *Registry) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[userID]; ok {
		return len(e.conns)
	}
	return 0
}

// Shutdown closes every connection, clears all entries and persists every
// previously online user as offline.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	users := r.onlineLocked()
	var handles []Handle
	for _, e := range r.entries {
		for _, h := range e.conns {
			handles = append(handles, h)
		}
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
	for _, userID := range users {
		r.persist(ctx, userID)
	}
	observability.SetOnlineUsers(0)
}

func (r *Registry) changed(ctx context.Context, userID string) {
	r.persist(ctx, userID)
	r.broadcast()
}

// persist writes the user's current registry state, not the state at call time.
func (r *Registry) persist(ctx context.Context, userID string) {
	if r.store == nil {
		return
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	online := r.IsOnline(userID)
	if err := r.store.SetPresence(ctx, userID, online, r.now()); err != nil {
		r.logger.Warn("persist presence failed", "user_id", userID, "online", online, "error", err)
	}
}

func (r *Registry) broadcast() {
	online := r.OnlineUsers()
	observability.SetOnlineUsers(len(online))
	r.notify(online)
}

func (r *Registry) onlineLocked() []string {
	ids := make([]string, 0, len(r.entries))
	for userID := range r.entries {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}
