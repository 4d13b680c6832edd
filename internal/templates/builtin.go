package templates

import "github.com/forensicdev/warden/pkg/schema"

// Built-in workflow types.
const (
	TypeEvidenceCollection = "evidence-collection"
	TypeFullInvestigation  = "full-investigation"
	TypeTriage             = "triage"
	TypeLogReview          = "log-review"
)

// Builtins returns fresh copies of the built-in workflow definitions.
func Builtins() []schema.WorkflowDefinition {
	return []schema.WorkflowDefinition{
		evidenceCollection(),
		fullInvestigation(),
		triage(),
		logReview(),
	}
}

// evidenceCollection images the disk and scans the image for malware.
func evidenceCollection() schema.WorkflowDefinition {
	return schema.WorkflowDefinition{
		Type:        TypeEvidenceCollection,
		Description: "Disk imaging followed by a malware scan of the image.",
		Steps: []schema.Step{
			processStep(schema.ProcessDiskImaging, nil),
			processStep(schema.ProcessMalwareScan, nil),
		},
	}
}

// fullInvestigation runs the complete pipeline: imaging, memory dump,
// concurrent capture and log analysis, then a malware scan only when the
// analysis phase raised alerts.
func fullInvestigation() schema.WorkflowDefinition {
	return schema.WorkflowDefinition{
		Type:        TypeFullInvestigation,
		Description: "Imaging, memory dump, parallel capture and log analysis, malware scan when alerts were raised.",
		Steps: []schema.Step{
			processStep(schema.ProcessDiskImaging, nil),
			processStep(schema.ProcessMemoryDump, nil),
			parallelStep(
				processStep(schema.ProcessNetworkCapture, nil),
				processStep(schema.ProcessLogAnalysis, nil),
			),
			decisionStep(
				schema.Branch{Name: "alerts-raised", When: "len(alerts) > 0", Action: schema.BranchContinue},
				schema.Branch{Name: "clean", Action: schema.BranchSkip, Skip: 2},
			),
			processStep(schema.ProcessMalwareScan, nil),
		},
	}
}

// triage dumps memory and captures traffic concurrently, lets late worker
// output settle, then assesses whether to escalate.
func triage() schema.WorkflowDefinition {
	return schema.WorkflowDefinition{
		Type:        TypeTriage,
		Description: "Parallel memory dump and capture, settle delay, escalation assessment.",
		Steps: []schema.Step{
			parallelStep(
				processStep(schema.ProcessMemoryDump, nil),
				processStep(schema.ProcessNetworkCapture, nil),
			),
			delayStep("2s"),
			decisionStep(
				schema.Branch{Name: "escalate", When: "len(alerts) > 0", Action: schema.BranchContinue},
				schema.Branch{Name: "stand-down", Action: schema.BranchContinue},
			),
		},
	}
}

// logReview analyzes session logs and classifies the outcome.
func logReview() schema.WorkflowDefinition {
	return schema.WorkflowDefinition{
		Type:        TypeLogReview,
		Description: "Session log analysis with an anomaly assessment.",
		Steps: []schema.Step{
			processStep(schema.ProcessLogAnalysis, nil),
			decisionStep(
				schema.Branch{Name: "anomalies-found", When: "len(alerts) > 0", Action: schema.BranchContinue},
				schema.Branch{Name: "clean", Action: schema.BranchContinue},
			),
		},
	}
}

func processStep(t schema.ProcessType, params map[string]any) schema.Step {
	return schema.Step{
		Type:    schema.StepProcess,
		Process: &schema.ProcessStep{ProcessType: t, Params: params},
	}
}

func decisionStep(branches ...schema.Branch) schema.Step {
	return schema.Step{
		Type:     schema.StepDecision,
		Decision: &schema.DecisionStep{Branches: branches},
	}
}

func delayStep(duration string) schema.Step {
	return schema.Step{
		Type:  schema.StepDelay,
		Delay: &schema.DelayStep{Duration: duration},
	}
}

func parallelStep(steps ...schema.Step) schema.Step {
	return schema.Step{
		Type:     schema.StepParallel,
		Parallel: &schema.ParallelStep{Steps: steps},
	}
}
