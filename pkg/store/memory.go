package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
)

// Memory is an in-process SessionStore and MessageStore with per-record TTL.
// It is the default when no Redis address is configured, and the test
// double. Expiry is checked lazily on read.
type Memory struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memSession // by participant name
	byID     map[string]*memSession // by session id
	messages map[string]*memMessage // by message id
	order    []string               // message ids in insertion order
}

type memSession struct {
	rec       SessionRecord
	expiresAt time.Time
}

type memMessage struct {
	msg       mesh.Message
	expiresAt time.Time
}

// NewMemory creates a Memory store with the given TTL (DefaultTTL if zero).
func NewMemory(ttl time.Duration) *Memory {
	return NewMemoryWithClock(ttl, time.Now)
}

// NewMemoryWithClock creates a Memory store with an injected clock.
func NewMemoryWithClock(ttl time.Duration, now func() time.Time) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:      ttl,
		now:      now,
		sessions: make(map[string]*memSession),
		byID:     make(map[string]*memSession),
		messages: make(map[string]*memMessage),
	}
}

func (m *Memory) PutSession(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &memSession{rec: rec, expiresAt: m.now().Add(m.ttl)}
	m.sessions[rec.ParticipantName] = s
	m.byID[rec.SessionID] = s
	return nil
}

func (m *Memory) GetSessionByParticipant(_ context.Context, name string) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok || m.expired(s.expiresAt) {
		return SessionRecord{}, ErrNotFound
	}
	return s.rec, nil
}

func (m *Memory) UpdateHeartbeat(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok || m.expired(s.expiresAt) {
		return ErrNotFound
	}
	s.rec.LastHeartbeat = m.now()
	s.expiresAt = m.now().Add(m.ttl)
	return nil
}

func (m *Memory) GetAllSessions(_ context.Context) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, 0, len(m.sessions))
	for _, s := range m.sessions {
		if m.expired(s.expiresAt) {
			continue
		}
		out = append(out, s.rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ParticipantName < out[j].ParticipantName
	})
	return out, nil
}

func (m *Memory) StoreMessage(_ context.Context, msg *mesh.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	cp.ReadBy = append([]string(nil), msg.ReadBy...)
	m.messages[msg.ID] = &memMessage{msg: cp, expiresAt: m.now().Add(m.ttl)}
	m.order = append(m.order, msg.ID)
	return nil
}

func (m *Memory) QueryMessages(_ context.Context, filter MessageFilter) ([]mesh.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mesh.Message
	for _, id := range m.order {
		rec, ok := m.messages[id]
		if !ok || m.expired(rec.expiresAt) {
			continue
		}
		if !matches(&rec.msg, filter) {
			continue
		}
		out = append(out, rec.msg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, messageID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.messages[messageID]
	if !ok || m.expired(rec.expiresAt) {
		return ErrNotFound
	}
	for _, id := range rec.msg.ReadBy {
		if id == sessionID {
			return nil
		}
	}
	rec.msg.ReadBy = append(rec.msg.ReadBy, sessionID)
	return nil
}

func (m *Memory) expired(at time.Time) bool {
	return !m.now().Before(at)
}

func matches(msg *mesh.Message, filter MessageFilter) bool {
	if filter.ToSession != "" {
		if msg.IsBroadcast() {
			if !filter.IncludeBroadcast {
				return false
			}
		} else if msg.ToSession != filter.ToSession {
			return false
		}
	}
	if !filter.Since.IsZero() && !msg.Timestamp.After(filter.Since) {
		return false
	}
	return true
}
