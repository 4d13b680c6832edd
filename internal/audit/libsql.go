package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/forensicdev/warden/pkg/schema"
)

// LibSQLRecorder is the persistent Recorder backed by libSQL (embedded
// SQLite fork). It also implements InvestigatorStore and SecretStore.
type LibSQLRecorder struct {
	db *sql.DB
}

// NewLibSQLRecorder opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/var/lib/warden/audit.db".
func NewLibSQLRecorder(dbPath string) (*LibSQLRecorder, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLRecorder{db: db}, nil
}

// DB exposes the underlying *sql.DB.
func (r *LibSQLRecorder) DB() *sql.DB { return r.db }

// Close closes the database.
func (r *LibSQLRecorder) Close() error { return r.db.Close() }

// Migrate applies all pending schema migrations.
func (r *LibSQLRecorder) Migrate(ctx context.Context) error {
	return runMigrations(ctx, r.db)
}

// Vacuum runs VACUUM on the database.
func (r *LibSQLRecorder) Vacuum(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "VACUUM")
	return err
}

// Append assigns the next per-entity sequence and persists the event.
func (r *LibSQLRecorder) Append(ctx context.Context, event *Event) error {
	if event.EntityKind == "" || event.EntityID == "" {
		return schema.NewError(schema.ErrCodeAudit, "event entity is empty")
	}
	if event.Type == "" {
		return schema.NewError(schema.ErrCodeAudit, "event type is empty")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; force write-lock
	// acquisition with a write-intent statement so sequence reads and inserts
	// cannot interleave across writers.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE entity_kind = ? AND entity_id = ?`,
		event.EntityKind, event.EntityID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (entity_kind, entity_id, event_type, payload, investigator_id, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EntityKind, event.EntityID, event.Type, nullRaw(event.Payload),
		nullStr(event.InvestigatorID), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Events returns an entity's events with sequence > since, ascending.
func (r *LibSQLRecorder) Events(ctx context.Context, entityKind, entityID string, since int64) ([]*Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_kind, entity_id, event_type, payload, investigator_id, timestamp, sequence
		 FROM events WHERE entity_kind = ? AND entity_id = ? AND sequence > ? ORDER BY sequence ASC`,
		entityKind, entityID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsByType returns events of one type matching the filter, newest first.
func (r *LibSQLRecorder) EventsByType(ctx context.Context, eventType string, filter Filter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.EntityKind != "" {
		where = append(where, "entity_kind = ?")
		args = append(args, filter.EntityKind)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, entity_kind, entity_id, event_type, payload, investigator_id, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var payload, investigatorID sql.NullString
		if err := rows.Scan(&e.ID, &e.EntityKind, &e.EntityID, &e.Type, &payload,
			&investigatorID, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Payload = rawOrNil(payload)
		e.InvestigatorID = investigatorID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Investigators ---

func (r *LibSQLRecorder) RegisterInvestigator(ctx context.Context, rec *InvestigatorRecord) error {
	if rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "investigator id is empty")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO investigators (id, name, role, registered_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role`,
		rec.ID, rec.Name, rec.Role, timeOrNow(rec.RegisteredAt),
	)
	return err
}

func (r *LibSQLRecorder) GetInvestigator(ctx context.Context, id string) (*InvestigatorRecord, error) {
	rec := &InvestigatorRecord{}
	var lastSeen sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, role, registered_at, last_seen_at FROM investigators WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &rec.Role, &rec.RegisteredAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, notFound("investigator", id)
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		rec.LastSeenAt = &lastSeen.Time
	}
	return rec, nil
}

func (r *LibSQLRecorder) TouchInvestigator(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE investigators SET last_seen_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "investigator", id)
}

func (r *LibSQLRecorder) ListInvestigators(ctx context.Context) ([]*InvestigatorRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, role, registered_at, last_seen_at FROM investigators ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*InvestigatorRecord
	for rows.Next() {
		rec := &InvestigatorRecord{}
		var lastSeen sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Role, &rec.RegisteredAt, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			rec.LastSeenAt = &lastSeen.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Secrets ---

func (r *LibSQLRecorder) StoreSecret(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "secret key is empty")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (r *LibSQLRecorder) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, notFound("secret", key)
	}
	return value, err
}

func (r *LibSQLRecorder) DeleteSecret(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (r *LibSQLRecorder) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func notFound(resource, id string) *schema.WardenError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
