package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/forensicdev/warden/pkg/schema"
)

// MemoryRecorder is an in-memory Recorder for tests and non-persistent runs.
// It also implements InvestigatorStore and SecretStore.
type MemoryRecorder struct {
	mu            sync.RWMutex
	events        []*Event
	seqs          map[string]int64
	nextID        int64
	investigators map[string]*InvestigatorRecord
	secrets       map[string][]byte
}

// NewMemoryRecorder creates an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		seqs:          make(map[string]int64),
		investigators: make(map[string]*InvestigatorRecord),
		secrets:       make(map[string][]byte),
	}
}

func entityKey(kind, id string) string {
	return kind + "/" + id
}

// Append assigns ID, sequence, and timestamp, then stores a copy of the event.
func (m *MemoryRecorder) Append(_ context.Context, event *Event) error {
	if event.EntityKind == "" || event.EntityID == "" {
		return schema.NewError(schema.ErrCodeAudit, "event entity is empty")
	}
	if event.Type == "" {
		return schema.NewError(schema.ErrCodeAudit, "event type is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey(event.EntityKind, event.EntityID)
	m.seqs[key]++
	m.nextID++
	event.Sequence = m.seqs[key]
	event.ID = m.nextID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	stored := *event
	m.events = append(m.events, &stored)
	return nil
}

// Events returns an entity's events with sequence > since, ascending.
func (m *MemoryRecorder) Events(_ context.Context, entityKind, entityID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events {
		if e.EntityKind != entityKind || e.EntityID != entityID || e.Sequence <= since {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// EventsByType returns events of one type matching the filter, newest first.
func (m *MemoryRecorder) EventsByType(_ context.Context, eventType string, filter Filter) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if filter.EntityKind != "" && e.EntityKind != filter.EntityKind {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory recorder.
func (m *MemoryRecorder) Close() error {
	return nil
}

// --- InvestigatorStore ---

func (m *MemoryRecorder) RegisterInvestigator(_ context.Context, rec *InvestigatorRecord) error {
	if rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "investigator id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *rec
	if existing, ok := m.investigators[rec.ID]; ok {
		stored.RegisteredAt = existing.RegisteredAt
		stored.LastSeenAt = existing.LastSeenAt
	} else if stored.RegisteredAt.IsZero() {
		stored.RegisteredAt = time.Now().UTC()
	}
	m.investigators[rec.ID] = &stored
	return nil
}

func (m *MemoryRecorder) GetInvestigator(_ context.Context, id string) (*InvestigatorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.investigators[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "investigator %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRecorder) TouchInvestigator(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.investigators[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "investigator %q not found", id)
	}
	now := time.Now().UTC()
	rec.LastSeenAt = &now
	return nil
}

func (m *MemoryRecorder) ListInvestigators(_ context.Context) ([]*InvestigatorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*InvestigatorRecord, 0, len(m.investigators))
	for _, rec := range m.investigators {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- SecretStore ---

func (m *MemoryRecorder) StoreSecret(_ context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "secret key is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	m.secrets[key] = cp
	return nil
}

func (m *MemoryRecorder) GetSecret(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.secrets[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

func (m *MemoryRecorder) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.secrets[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.secrets, key)
	return nil
}

func (m *MemoryRecorder) ListSecrets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.secrets))
	for k := range m.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
