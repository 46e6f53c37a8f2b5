package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process sliding window limiter. Each client has its own
// lock, so checks for different clients never contend.
type Memory struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*clientWindow
}

type clientWindow struct {
	mu   sync.Mutex
	hits []time.Time
	dead bool
}

// NewMemory returns a limiter admitting limit requests per window per client.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
	}
}

// Admit implements Limiter.
func (m *Memory) Admit(_ context.Context, clientID string, now time.Time) (bool, error) {
	if m.limit <= 0 {
		return true, nil
	}
	for {
		entry := m.entry(clientID)
		entry.mu.Lock()
		if entry.dead {
			// Pruned between lookup and lock; fetch the replacement.
			entry.mu.Unlock()
			continue
		}
		entry.evict(now.Add(-m.window))
		if len(entry.hits) >= m.limit {
			entry.mu.Unlock()
			return false, nil
		}
		entry.hits = append(entry.hits, now)
		entry.mu.Unlock()
		return true, nil
	}
}

func (m *Memory) entry(clientID string) *clientWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.clients[clientID]
	if !ok {
		entry = &clientWindow{}
		m.clients[clientID] = entry
	}
	return entry
}

// evict drops hits at or before cutoff. Callers sample their clock before
// taking the entry lock, so hits are not necessarily in time order.
func (w *clientWindow) evict(cutoff time.Time) {
	kept := w.hits[:0]
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	clear(w.hits[len(kept):])
	w.hits = kept
}

// Prune forgets clients with no hits inside the window ending at now and
// returns how many were removed.
func (m *Memory) Prune(now time.Time) int {
	cutoff := now.Add(-m.window)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, entry := range m.clients {
		entry.mu.Lock()
		entry.evict(cutoff)
		if len(entry.hits) == 0 {
			entry.dead = true
			delete(m.clients, id)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// Clients returns the number of tracked clients.
func (m *Memory) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// RunJanitor prunes idle clients every window until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context) {
	if m.window <= 0 {
		return
	}
	ticker := time.NewTicker(m.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Prune(now)
		}
	}
}
