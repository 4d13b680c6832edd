package rules

import (
	"encoding/json"

	"github.com/forensicdev/warden/internal/synth"
)

// Findings are the record sets a rule evaluation consumes, as harvested
// from worker result payloads or supplied directly by a caller.
type Findings struct {
	Profiles  []synth.UserProfile    `json:"profiles,omitempty"`
	Artifacts []synth.MemoryArtifact `json:"artifacts,omitempty"`
}

// Merge folds other into f.
func (f *Findings) Merge(other Findings) {
	f.Profiles = append(f.Profiles, other.Profiles...)
	f.Artifacts = append(f.Artifacts, other.Artifacts...)
}

// Harvest extracts findings from an arbitrary worker result payload.
// Payloads carry typed slices when produced in-process and generic JSON
// maps when decoded off the wire; a JSON round-trip tolerates both.
// Unrecognized payloads harvest nothing.
func Harvest(payload any) Findings {
	if payload == nil {
		return Findings{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Findings{}
	}
	var f Findings
	if err := json.Unmarshal(data, &f); err != nil {
		return Findings{}
	}
	return f
}

// HarvestAll merges findings across many result payloads.
func HarvestAll(payloads []any) Findings {
	var all Findings
	for _, p := range payloads {
		f := Harvest(p)
		all.Merge(f)
	}
	return all
}
