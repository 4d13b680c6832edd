package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forensicdev/warden/internal/audit"
	"github.com/forensicdev/warden/internal/engine"
	"github.com/forensicdev/warden/internal/expressions"
	"github.com/forensicdev/warden/internal/launcher"
	"github.com/forensicdev/warden/internal/logging"
	"github.com/forensicdev/warden/internal/metrics"
	"github.com/forensicdev/warden/internal/rules"
	"github.com/forensicdev/warden/internal/streaming"
	"github.com/forensicdev/warden/internal/supervisor"
	"github.com/forensicdev/warden/internal/templates"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	gen      *Generator
	sup      *supervisor.Supervisor
	eng      *engine.Engine
	recorder *audit.MemoryRecorder
	hub      *streaming.MemoryHub
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	env := &testEnv{
		recorder: audit.NewMemoryRecorder(),
		hub:      streaming.NewMemoryHub(),
	}
	sim := launcher.NewSimLauncher(launcher.SimConfig{
		DefaultInterval: 2 * time.Millisecond,
		DefaultSteps:    4,
	})
	m := metrics.New()
	env.sup = supervisor.New(ctx, supervisor.Config{MaxConcurrent: 8},
		sim, env.recorder, env.hub, m, logging.NewNop())

	engines, err := expressions.NewEngines()
	require.NoError(t, err)
	env.eng = engine.New(ctx, engine.Config{PollInterval: 5 * time.Millisecond},
		env.sup, templates.NewRegistry(nil), engines,
		rules.NewEvaluator(rules.Config{}), env.recorder, env.hub, m, logging.NewNop())

	env.gen = New(cfg, env.sup, env.eng, env.recorder, engines, env.hub, logging.NewNop())
	return env
}

// startFinished runs a sim worker to its terminal state.
func (env *testEnv) startFinished(t *testing.T, pt schema.ProcessType, params map[string]any) string {
	t.Helper()
	id, err := env.sup.Start(context.Background(), pt, params)
	require.NoError(t, err)
	ch, ok := env.sup.Watch(id)
	require.True(t, ok)
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("process %s did not reach a terminal state", id)
	}
	return id
}

func (env *testEnv) raiseAlert(t *testing.T, rule, subject string, at time.Time) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"rule": rule, "subject": subject, "message": "flagged " + subject})
	require.NoError(t, err)
	require.NoError(t, env.recorder.Append(context.Background(), &audit.Event{
		EntityKind: schema.EntityRule,
		EntityID:   rule,
		Type:       schema.EventAlertRaised,
		Payload:    raw,
		Timestamp:  at,
	}))
}

func fastParams() map[string]any {
	return map[string]any{"sim_interval_ms": 2, "sim_steps": 3}
}

// flaggedResult carries one anomalous profile and one artifact in the
// worker's result payload.
func flaggedResult() map[string]any {
	p := fastParams()
	p["result"] = map[string]any{
		"profiles": []any{map[string]any{
			"user_id":       "u-night",
			"session_count": 12,
			"avg_actions":   31.5,
			"off_hour_pct":  0.82,
			"anomaly_score": -1,
		}},
		"artifacts": []any{map[string]any{
			"snapshot_id":   "snap-1",
			"process_id":    "proc-x",
			"artifact_type": "credential-material",
			"match":         "AKIA",
			"offset":        4096,
		}},
	}
	return p
}

// --- Build Tests ---

func TestBuild_AssemblesSections(t *testing.T) {
	env := newTestEnv(t, Config{})

	first := env.startFinished(t, schema.ProcessDiskImaging, fastParams())
	second := env.startFinished(t, schema.ProcessLogAnalysis, flaggedResult())
	env.raiseAlert(t, rules.RuleAnomaly, "u-night", time.Now().UTC())

	rep, err := env.gen.Build(context.Background(), Options{CaseID: "cs-700"})
	require.NoError(t, err)

	assert.Contains(t, rep.ID, "rpt-")
	assert.Equal(t, "cs-700", rep.CaseID)
	assert.False(t, rep.GeneratedAt.IsZero())

	require.Len(t, rep.Processes, 2)
	assert.Equal(t, first, rep.Processes[0].ID, "sections run oldest first")
	assert.Equal(t, second, rep.Processes[1].ID)
	assert.Equal(t, schema.ProcessCompleted, rep.Processes[0].State)

	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, rules.RuleAnomaly, rep.Alerts[0].Rule)
	assert.Equal(t, "u-night", rep.Alerts[0].Details["subject"])

	require.Len(t, rep.Findings.Profiles, 1)
	assert.Equal(t, "u-night", rep.Findings.Profiles[0].UserID)
	require.Len(t, rep.Findings.Artifacts, 1)
	assert.Equal(t, "snap-1", rep.Findings.Artifacts[0].SnapshotID)
}

func TestBuild_IncludesWorkflows(t *testing.T) {
	env := newTestEnv(t, Config{})

	id, err := env.eng.Create(context.Background(), templates.TypeEvidenceCollection, nil)
	require.NoError(t, err)
	require.NoError(t, env.eng.Start(context.Background(), id))
	ch, ok := env.eng.Watch(id)
	require.True(t, ok)
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("workflow %s did not finish", id)
	}

	rep, err := env.gen.Build(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, rep.Workflows, 1)
	assert.Equal(t, id, rep.Workflows[0].ID)
	assert.Equal(t, schema.WorkflowCompleted, rep.Workflows[0].State)
	assert.Len(t, rep.Processes, 2, "both workflow steps appear in the process section")
}

func TestBuild_AlertsSince(t *testing.T) {
	env := newTestEnv(t, Config{})

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	env.raiseAlert(t, rules.RuleAnomaly, "u-old", base)
	env.raiseAlert(t, rules.RuleOffHours, "u-mid", base.Add(time.Hour))
	env.raiseAlert(t, rules.RuleAnomaly, "u-new", base.Add(2*time.Hour))

	cutoff := base.Add(time.Hour)
	rep, err := env.gen.Build(context.Background(), Options{Since: &cutoff})
	require.NoError(t, err)

	require.Len(t, rep.Alerts, 2)
	assert.Equal(t, "u-mid", rep.Alerts[0].Details["subject"], "oldest surviving alert first")
	assert.Equal(t, "u-new", rep.Alerts[1].Details["subject"])
}

func TestBuild_RecordsInvestigator(t *testing.T) {
	env := newTestEnv(t, Config{})

	ctx := logging.WithInvestigatorID(context.Background(), "inv-7")
	rep, err := env.gen.Build(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "inv-7", rep.InvestigatorID)
}

// --- Summary Tests ---

func TestSummary_CountsAndGroups(t *testing.T) {
	env := newTestEnv(t, Config{})

	env.startFinished(t, schema.ProcessDiskImaging, fastParams())
	env.startFinished(t, schema.ProcessMalwareScan, fastParams())
	failing := fastParams()
	failing["exit_code"] = 2
	failing["error"] = "scan engine crashed"
	env.startFinished(t, schema.ProcessLogAnalysis, failing)
	env.startFinished(t, schema.ProcessMemoryDump, flaggedResult())
	env.raiseAlert(t, rules.RuleAnomaly, "u-night", time.Now().UTC())
	env.raiseAlert(t, rules.RuleAnomaly, "u-night", time.Now().UTC())
	env.raiseAlert(t, rules.RuleOffHours, "u-night", time.Now().UTC())

	rep, err := env.gen.Build(context.Background(), Options{})
	require.NoError(t, err)

	sum := rep.Summary
	assert.EqualValues(t, 4, sum["process_count"])
	assert.EqualValues(t, 0, sum["workflow_count"])
	assert.EqualValues(t, 3, sum["alert_count"])
	assert.EqualValues(t, 1, sum["artifact_count"])

	byState, ok := sum["processes_by_state"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, byState["completed"])
	assert.EqualValues(t, 1, byState["error"])

	byRule, ok := sum["alerts_by_rule"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, byRule["anomaly"])
	assert.EqualValues(t, 1, byRule["off-hours"])

	flagged, ok := sum["flagged_users"].([]any)
	require.True(t, ok)
	require.Len(t, flagged, 1)
	assert.Equal(t, "u-night", flagged[0])
}

func TestSummary_EmptyCase(t *testing.T) {
	env := newTestEnv(t, Config{})

	rep, err := env.gen.Build(context.Background(), Options{})
	require.NoError(t, err)

	assert.EqualValues(t, 0, rep.Summary["process_count"])
	assert.EqualValues(t, 0, rep.Summary["alert_count"])
	assert.Empty(t, rep.Summary["processes_by_state"])
	assert.Empty(t, rep.Summary["flagged_users"])
}

// --- Write Tests ---

func TestWrite_FileAndDigest(t *testing.T) {
	env := newTestEnv(t, Config{Dir: t.TempDir()})

	env.startFinished(t, schema.ProcessDiskImaging, fastParams())
	rep, err := env.gen.Build(context.Background(), Options{CaseID: "cs-701"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "case", "final.json")
	written, err := env.gen.Write(context.Background(), rep, path)
	require.NoError(t, err)
	assert.Equal(t, path, written.Path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, len(data), written.Bytes)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), written.Digest)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rep.ID, decoded.ID)
	assert.Equal(t, "cs-701", decoded.CaseID)
	require.Len(t, decoded.Processes, 1)
}

func TestWrite_AppendsAuditRecord(t *testing.T) {
	env := newTestEnv(t, Config{Dir: t.TempDir()})

	rep, err := env.gen.Build(context.Background(), Options{})
	require.NoError(t, err)
	written, err := env.gen.Write(context.Background(), rep, "")
	require.NoError(t, err)

	events, err := env.recorder.Events(context.Background(), schema.EntityReport, rep.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventReportWritten, events[0].Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, written.Path, payload["path"])
	assert.Equal(t, written.Digest, payload["digest"])
}

func TestWrite_DefaultPathUnderDir(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, Config{Dir: dir})

	rep, err := env.gen.Build(context.Background(), Options{})
	require.NoError(t, err)
	written, err := env.gen.Write(context.Background(), rep, "")
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(written.Path))
	base := filepath.Base(written.Path)
	assert.True(t, strings.HasPrefix(base, "report-"), "got %q", base)
	assert.True(t, strings.HasSuffix(base, ".json"), "got %q", base)
	_, err = os.Stat(written.Path)
	require.NoError(t, err)
}

func TestWrite_PublishesStreamEvent(t *testing.T) {
	env := newTestEnv(t, Config{Dir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe, err := env.hub.Subscribe(ctx, streaming.Filter{EntityKind: schema.EntityReport})
	require.NoError(t, err)
	defer unsubscribe()

	rep, err := env.gen.Build(context.Background(), Options{})
	require.NoError(t, err)
	_, err = env.gen.Write(context.Background(), rep, "")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, schema.EventReportWritten, ev.EventType)
		assert.Equal(t, rep.ID, ev.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("no report event on the stream")
	}
}

func TestGenerate_BuildsAndWrites(t *testing.T) {
	env := newTestEnv(t, Config{Dir: t.TempDir()})

	env.startFinished(t, schema.ProcessNetworkCapture, fastParams())
	rep, written, err := env.gen.Generate(context.Background(), Options{CaseID: "cs-702"}, "")
	require.NoError(t, err)
	require.NotNil(t, rep)
	require.NotNil(t, written)

	data, err := os.ReadFile(written.Path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "cs-702", decoded.CaseID)
	assert.EqualValues(t, 1, decoded.Summary["process_count"])
}
