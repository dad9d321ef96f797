package memory

import (
	"context"
	"sync"

	"talkosync/internal/domain"
)

// PreferencesStore keeps preferences for the lifetime of the process.
type PreferencesStore struct {
	mu    sync.RWMutex
	prefs map[string]domain.Preferences
}

func NewPreferencesStore() *PreferencesStore {
	return &PreferencesStore{prefs: make(map[string]domain.Preferences)}
}

func (s *PreferencesStore) GetPreferences(_ context.Context, userID string) (domain.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return domain.Preferences{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *PreferencesStore) UpsertPreferences(ctx context.Context, userID string, p domain.Preferences) (domain.Preferences, error) {
	if err := ctx.Err(); err != nil {
		return domain.Preferences{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[userID] = p
	return p, nil
}
