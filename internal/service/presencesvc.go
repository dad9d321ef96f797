package service

import (
	"sort"
	"sync"
)

// PresenceTracker holds the latest online-user snapshot pushed by the server.
// Snapshots replace each other whole; there are no incremental updates.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func (p *PresenceTracker) ReplaceOnline(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}

func (p *PresenceTracker) Clear() {
	p.mu.Lock()
	p.online = nil
	p.mu.Unlock()
}

func (p *PresenceTracker) IsOnline(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[id]
	return ok
}

func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}
