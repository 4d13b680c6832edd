// Package rules applies detection predicates to forensic findings and
// emits alerts. Evaluation is pure and stateless: callers supply the
// record sets, the evaluator never stores or retries anything.
package rules

import (
	"fmt"
	"time"

	"github.com/forensicdev/warden/internal/synth"
)

// Rule names carried on alerts and metrics labels.
const (
	RuleAnomaly  = "anomaly"
	RuleOffHours = "off-hours"
)

// Default work-hour window, UTC, end exclusive.
const (
	DefaultWorkHoursStart = 8
	DefaultWorkHoursEnd   = 18
)

// Config holds the evaluator's tunable window.
type Config struct {
	// WorkHoursStart and WorkHoursEnd bound the UTC hours considered
	// normal for key-extraction activity. End is exclusive. A start
	// greater than end wraps past midnight.
	WorkHoursStart int
	WorkHoursEnd   int
}

// Alert is one rule hit. Subject names the user or snapshot involved.
type Alert struct {
	Rule      string         `json:"rule"`
	Subject   string         `json:"subject"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Evaluator applies the anomaly and off-hours rules.
type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) *Evaluator {
	if cfg.WorkHoursStart == 0 && cfg.WorkHoursEnd == 0 {
		cfg.WorkHoursStart = DefaultWorkHoursStart
		cfg.WorkHoursEnd = DefaultWorkHoursEnd
	}
	return &Evaluator{cfg: cfg}
}

// Evaluate runs every rule over the supplied findings. The two record
// sets are independent; either may be empty.
func (e *Evaluator) Evaluate(profiles []synth.UserProfile, artifacts []synth.MemoryArtifact) []Alert {
	var alerts []Alert
	alerts = append(alerts, e.evalAnomalies(profiles)...)
	alerts = append(alerts, e.evalOffHours(artifacts)...)
	return alerts
}

// evalAnomalies emits one alert per profile carrying the flagged score.
func (e *Evaluator) evalAnomalies(profiles []synth.UserProfile) []Alert {
	var alerts []Alert
	for _, p := range profiles {
		if p.AnomalyScore != synth.ScoreFlagged {
			continue
		}
		alerts = append(alerts, Alert{
			Rule:      RuleAnomaly,
			Subject:   p.UserID,
			Message:   fmt.Sprintf("anomalous behavior profile for %s", p.UserID),
			Timestamp: time.Now().UTC(),
			Details: map[string]any{
				"session_count": p.SessionCount,
				"avg_actions":   p.AvgActions,
				"off_hour_pct":  p.OffHourPct,
			},
		})
	}
	return alerts
}

// evalOffHours emits one alert per key-extraction artifact whose UTC
// hour falls outside the work window.
func (e *Evaluator) evalOffHours(artifacts []synth.MemoryArtifact) []Alert {
	var alerts []Alert
	for _, a := range artifacts {
		if a.ArtifactType != synth.ArtifactKeyExtraction {
			continue
		}
		hour := a.Timestamp.UTC().Hour()
		if e.withinWorkHours(hour) {
			continue
		}
		alerts = append(alerts, Alert{
			Rule:      RuleOffHours,
			Subject:   a.SnapshotID,
			Message:   fmt.Sprintf("key-extraction artifact in %s at hour %02d UTC", a.SnapshotID, hour),
			Timestamp: time.Now().UTC(),
			Details: map[string]any{
				"process_id": a.ProcessID,
				"offset":     a.Offset,
				"hour":       hour,
			},
		})
	}
	return alerts
}

func (e *Evaluator) withinWorkHours(hour int) bool {
	start, end := e.cfg.WorkHoursStart, e.cfg.WorkHoursEnd
	if start <= end {
		return hour >= start && hour < end
	}
	// Window wraps past midnight, e.g. 22..6.
	return hour >= start || hour < end
}
