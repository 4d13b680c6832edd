package expressions

import (
	"encoding/json"

	"github.com/forensicdev/warden/pkg/schema"
)

// DecisionScope is the data a decision-branch predicate can see.
// All five namespaces are optional; engines default missing ones.
type DecisionScope struct {
	// Workflow carries id, type, state, current step index, and params.
	Workflow map[string]any
	// Processes lists per-process summaries started by this workflow:
	// {id, type, state, progress, result}.
	Processes []any
	// Results maps process type to the latest result payload of that type.
	Results map[string]any
	// Alerts holds rule hits evaluated over findings harvested from Results.
	Alerts []any
	// Params are the workflow input parameters.
	Params map[string]any
}

// Data flattens the scope into the engine activation map. Every value is
// passed through a JSON round-trip so typed records become the generic
// maps and slices all three engines understand, and so predicates cannot
// mutate registry state through shared references.
func (s *DecisionScope) Data() (map[string]any, error) {
	raw := map[string]any{
		"workflow":  s.Workflow,
		"processes": s.Processes,
		"results":   s.Results,
		"alerts":    s.Alerts,
		"params":    s.Params,
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"cannot build decision scope: %s", err.Error()).WithCause(err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"cannot build decision scope: %s", err.Error()).WithCause(err)
	}

	// JSON null round-trips to nil; engines want the namespaces present.
	if generic["workflow"] == nil {
		generic["workflow"] = map[string]any{}
	}
	if generic["results"] == nil {
		generic["results"] = map[string]any{}
	}
	if generic["params"] == nil {
		generic["params"] = map[string]any{}
	}
	if generic["processes"] == nil {
		generic["processes"] = []any{}
	}
	if generic["alerts"] == nil {
		generic["alerts"] = []any{}
	}
	return generic, nil
}
