package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/google/renameio/v2"
)

// Written describes a report file on disk.
type Written struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Bytes  int    `json:"bytes"`
}

// DefaultPath returns the path a report generated at the given instant
// is written to when the caller names none.
func (g *Generator) DefaultPath(now time.Time) string {
	name := "report-" + now.UTC().Format("20060102-150405") + ".json"
	return filepath.Join(g.cfg.Dir, name)
}

// Write marshals the report and writes it to path atomically. The file
// never appears partially written; readers see either the previous
// content or the full new document. The SHA-256 digest of the written
// bytes is recorded in the audit log so the report can later be checked
// for tampering.
func (g *Generator) Write(ctx context.Context, rep *Report, path string) (*Written, error) {
	if path == "" {
		path = g.DefaultPath(rep.GeneratedAt)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"report marshal failed: %s", err.Error()).WithCause(err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"report directory %q: %s", dir, err.Error()).WithCause(err)
		}
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"report write to %q failed: %s", path, err.Error()).WithCause(err)
	}

	sum := sha256.Sum256(data)
	written := &Written{
		Path:   path,
		Digest: hex.EncodeToString(sum[:]),
		Bytes:  len(data),
	}

	payload := map[string]any{
		"path":           written.Path,
		"digest":         written.Digest,
		"bytes":          written.Bytes,
		"process_count":  len(rep.Processes),
		"workflow_count": len(rep.Workflows),
		"alert_count":    len(rep.Alerts),
	}
	if rep.CaseID != "" {
		payload["case_id"] = rep.CaseID
	}
	raw, _ := json.Marshal(payload)
	ev := &audit.Event{
		EntityKind:     schema.EntityReport,
		EntityID:       rep.ID,
		Type:           schema.EventReportWritten,
		Payload:        raw,
		InvestigatorID: logging.InvestigatorID(ctx),
	}
	// The file is on disk at this point. A custody record that cannot
	// be appended still fails the operation so the gap is never silent.
	if err := g.recorder.Append(ctx, ev); err != nil {
		return written, schema.NewErrorf(schema.ErrCodeAudit,
			"report written to %q but audit append failed: %s", path, err.Error()).WithCause(err)
	}
	if err := g.hub.Publish(ctx, streaming.Event{
		EntityKind: schema.EntityReport,
		EntityID:   rep.ID,
		EventType:  schema.EventReportWritten,
		Payload:    payload,
	}); err != nil {
		g.logger.WarnContext(ctx, "stream publish failed",
			"entity_kind", schema.EntityReport, "entity_id", rep.ID, "error", err)
	}

	g.logger.InfoContext(ctx, "report written",
		"report_id", rep.ID, "path", written.Path, "digest", written.Digest, "bytes", written.Bytes)
	return written, nil
}

// Generate builds the report and writes it in one call. An empty path
// selects DefaultPath under the configured directory.
func (g *Generator) Generate(ctx context.Context, opts Options, path string) (*Report, *Written, error) {
	rep, err := g.Build(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	written, err := g.Write(ctx, rep, path)
	if err != nil {
		// written is non-nil when the file landed but the custody
		// append failed.
		return rep, written, err
	}
	return rep, written, nil
}
