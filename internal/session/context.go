// Package session keeps short-lived conversation context per owner and channel.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxHistory        = 5
	DefaultInactivityTimeout = 30 * time.Minute
)

// Entry is one ingested event remembered as context for the next one.
type Entry struct {
	Channel  string    `json:"channel"`
	RecordID string    `json:"record_id"`
	Summary  string    `json:"summary"`
	Entities []string  `json:"entities,omitempty"`
	At       time.Time `json:"at"`
}

type ownerContext struct {
	channels       map[string][]Entry
	lastActivityAt time.Time
}

// ContextStore holds the last few entries per owner and channel. Owners idle
// for longer than the inactivity timeout are evicted by the janitor.
type ContextStore struct {
	mu                sync.RWMutex
	owners            map[string]*ownerContext
	maxHistory        int
	inactivityTimeout time.Duration
	onExpire          func(ownerID string)
	now               func() time.Time
}

func NewContextStore(maxHistory int, inactivityTimeout time.Duration) *ContextStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if inactivityTimeout <= 0 {
		inactivityTimeout = DefaultInactivityTimeout
	}
	return &ContextStore{
		owners:            make(map[string]*ownerContext),
		maxHistory:        maxHistory,
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (s *ContextStore) SetExpireHook(hook func(ownerID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = hook
}

// Record appends e to the owner's channel history, dropping the oldest
// entries beyond the history limit.
func (s *ContextStore) Record(ownerID string, e Entry) {
	if ownerID == "" {
		return
	}
	now := s.now()
	if e.At.IsZero() {
		e.At = now
	}
	e.Entities = append([]string(nil), e.Entities...)

	s.mu.Lock()
	defer s.mu.Unlock()
	oc, ok := s.owners[ownerID]
	if !ok {
		oc = &ownerContext{channels: make(map[string][]Entry)}
		s.owners[ownerID] = oc
	}
	history := append(oc.channels[e.Channel], e)
	if len(history) > s.maxHistory {
		history = append([]Entry(nil), history[len(history)-s.maxHistory:]...)
	}
	oc.channels[e.Channel] = history
	oc.lastActivityAt = now
}

// Recent returns the owner's entries for channel, oldest first. An empty
// channel merges all channels and keeps the newest entries.
func (s *ContextStore) Recent(ownerID, channel string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	oc, ok := s.owners[ownerID]
	if !ok {
		return nil
	}
	if channel != "" {
		return cloneEntries(oc.channels[channel])
	}
	var all []Entry
	for _, history := range oc.channels {
		all = append(all, history...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].At.Before(all[j].At) })
	if len(all) > s.maxHistory {
		all = all[len(all)-s.maxHistory:]
	}
	return cloneEntries(all)
}

// Hint renders entries as the context string passed to an extractor.
func Hint(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := "- " + e.Summary
		if len(e.Entities) > 0 {
			line += " (" + strings.Join(e.Entities, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (s *ContextStore) Clear(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, ownerID)
}

func (s *ContextStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owners)
}

func (s *ContextStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireInactive()
			}
		}
	}()
}

func (s *ContextStore) expireInactive() {
	now := s.now()
	var expired []string

	s.mu.Lock()
	for ownerID, oc := range s.owners {
		if now.Sub(oc.lastActivityAt) < s.inactivityTimeout {
			continue
		}
		delete(s.owners, ownerID)
		expired = append(expired, ownerID)
	}
	hook := s.onExpire
	s.mu.Unlock()

	if hook != nil {
		for _, ownerID := range expired {
			hook(ownerID)
		}
	}
}

func cloneEntries(in []Entry) []Entry {
	if len(in) == 0 {
		return nil
	}
	out := make([]Entry, len(in))
	for i, e := range in {
		e.Entities = append([]string(nil), e.Entities...)
		out[i] = e
	}
	return out
}
