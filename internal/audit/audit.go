// Package audit persists the investigation record: every state transition,
// alert, and progress milestone, appended once and never rewritten. It also
// stores investigator registrations and vault secrets so a single database
// file carries the whole case history.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Event is an immutable entry in the audit log. Sequence is monotonically
// increasing per (entity_kind, entity_id) and assigned on append.
type Event struct {
	ID             int64           `json:"id,omitempty"`
	EntityKind     string          `json:"entity_kind"`
	EntityID       string          `json:"entity_id"`
	Type           string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	InvestigatorID string          `json:"investigator_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Sequence       int64           `json:"sequence"`
}

// Filter specifies criteria for querying events by type.
type Filter struct {
	EntityKind string     `json:"entity_kind,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// Recorder is the append-only audit log contract.
// All implementations must be safe for concurrent use.
type Recorder interface {
	// Append assigns the event's sequence and timestamp and persists it.
	Append(ctx context.Context, event *Event) error
	// Events returns an entity's events with sequence > since, ascending.
	Events(ctx context.Context, entityKind, entityID string, since int64) ([]*Event, error)
	// EventsByType returns events of one type matching the filter,
	// newest first.
	EventsByType(ctx context.Context, eventType string, filter Filter) ([]*Event, error)
	Close() error
}

// InvestigatorRecord is a registered investigator identity.
type InvestigatorRecord struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

// InvestigatorStore persists investigator registrations.
type InvestigatorStore interface {
	RegisterInvestigator(ctx context.Context, rec *InvestigatorRecord) error
	GetInvestigator(ctx context.Context, id string) (*InvestigatorRecord, error)
	TouchInvestigator(ctx context.Context, id string) error
	ListInvestigators(ctx context.Context) ([]*InvestigatorRecord, error)
}

// SecretStore persists encrypted secret values. Values arrive already
// encrypted; the store never sees plaintext.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
