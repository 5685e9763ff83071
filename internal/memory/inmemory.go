package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
	prefs   map[string]PreferenceAggregate
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]map[string]Record),
		prefs:   make(map[string]PreferenceAggregate),
	}
}

func (s *InMemoryStore) Get(_ context.Context, ownerID, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ownerID][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Recent(_ context.Context, ownerID string, limit int) ([]Record, error) {
	s.mu.RLock()
	byID := s.records[ownerID]
	out := make([]Record, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sortRecent(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Save(_ context.Context, rec Record, prefs map[string]any) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.records[rec.OwnerID]
	if byID == nil {
		byID = make(map[string]Record)
		s.records[rec.OwnerID] = byID
	}
	byID[rec.ID] = rec.Clone()
	if prefs != nil {
		s.mergePrefsLocked(rec.OwnerID, prefs, rec.UpdatedAt)
	}
	return nil
}

func (s *InMemoryStore) Touch(_ context.Context, ownerID string, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.records[ownerID]
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		rec.LastAccessed = at
		byID[id] = rec
	}
	return nil
}

func (s *InMemoryStore) DeleteAccessedBefore(_ context.Context, ownerID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records[ownerID] {
		if rec.LastAccessed.Before(cutoff) {
			delete(s.records[ownerID], id)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) Preferences(_ context.Context, ownerID string) (PreferenceAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.prefs[ownerID]
	if !ok {
		return PreferenceAggregate{}, ErrNotFound
	}
	agg.Preferences = clonePrefs(agg.Preferences)
	return agg, nil
}

func (s *InMemoryStore) MergePreferences(_ context.Context, ownerID string, prefs map[string]any, at time.Time) (PreferenceAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := s.mergePrefsLocked(ownerID, prefs, at)
	agg.Preferences = clonePrefs(agg.Preferences)
	return agg, nil
}

func (s *InMemoryStore) mergePrefsLocked(ownerID string, prefs map[string]any, at time.Time) PreferenceAggregate {
	agg, ok := s.prefs[ownerID]
	if !ok {
		agg = PreferenceAggregate{OwnerID: ownerID, Preferences: map[string]any{}, CreatedAt: at}
	}
	agg.Preferences = mergePrefs(clonePrefs(agg.Preferences), prefs)
	agg.UpdatedAt = at
	s.prefs[ownerID] = agg
	return agg
}

func (s *InMemoryStore) Owners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.records)+len(s.prefs))
	for owner := range s.records {
		seen[owner] = struct{}{}
	}
	for owner := range s.prefs {
		seen[owner] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for owner := range seen {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
