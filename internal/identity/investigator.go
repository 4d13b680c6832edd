// Package identity registers who acts on a case. Every MCP call and CLI
// command can carry an investigator id; the first time an id appears it
// is registered in the case database, and every audit event it causes
// carries it from then on.
package identity

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/pkg/schema"
)

// Investigator roles.
const (
	RoleAnalyst  = "analyst"
	RoleExaminer = "examiner"
	RoleSystem   = "system"
	RoleService  = "service"
)

var validRoles = map[string]bool{
	RoleAnalyst:  true,
	RoleExaminer: true,
	RoleSystem:   true,
	RoleService:  true,
}

// ValidateRole checks that role names a known investigator role.
func ValidateRole(role string) error {
	if !validRoles[role] {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid investigator role %q: must be one of analyst, examiner, system, service", role)
	}
	return nil
}

// Validate checks required fields on an investigator record.
func Validate(rec *audit.InvestigatorRecord) error {
	if rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "investigator id is required")
	}
	if rec.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "investigator name is required")
	}
	return ValidateRole(rec.Role)
}

// Service registers investigators and keeps their last-seen stamps.
type Service struct {
	store    audit.InvestigatorStore
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewService creates an identity service over the case database.
func NewService(store audit.InvestigatorStore, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: store, recorder: recorder, logger: logger}
}

// EnsureRegistered returns the stored record for id, stamping it seen.
// An unknown id is registered first; the registration itself lands in
// the audit log.
func (s *Service) EnsureRegistered(ctx context.Context, id, name, role string) (*audit.InvestigatorRecord, error) {
	existing, err := s.store.GetInvestigator(ctx, id)
	if err == nil {
		if terr := s.store.TouchInvestigator(ctx, id); terr != nil {
			s.logger.WarnContext(ctx, "investigator touch failed", "investigator_id", id, "error", terr)
		}
		return existing, nil
	}
	if !schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, err
	}

	rec := &audit.InvestigatorRecord{ID: id, Name: name, Role: role}
	if err := Validate(rec); err != nil {
		return nil, err
	}
	if err := s.store.RegisterInvestigator(ctx, rec); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]any{"name": name, "role": role})
	ev := &audit.Event{
		EntityKind:     schema.EntityInvestigator,
		EntityID:       id,
		Type:           schema.EventInvestigatorRegistered,
		Payload:        payload,
		InvestigatorID: id,
	}
	if err := s.recorder.Append(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "audit append failed",
			"entity_kind", schema.EntityInvestigator, "entity_id", id, "error", err)
	}
	s.logger.InfoContext(ctx, "investigator registered", "investigator_id", id, "role", role)

	return s.store.GetInvestigator(ctx, id)
}

// List returns every registered investigator.
func (s *Service) List(ctx context.Context) ([]*audit.InvestigatorRecord, error) {
	return s.store.ListInvestigators(ctx)
}
