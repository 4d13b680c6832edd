package expressions

import (
	"context"

	"github.com/forensicdev/warden/pkg/schema"
)

// Engine evaluates decision-branch predicates and report queries.
// Three implementations: CEL (conditions), Expr (logic), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines bundles one shared instance of each engine. Compile caches live
// for the lifetime of the bundle, so one bundle serves the whole service.
type Engines struct {
	cel  *CELEngine
	expr *ExprEngine
	jq   *GoJQEngine
}

func NewEngines() (*Engines, error) {
	cel, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{
		cel:  cel,
		expr: NewExprEngine(),
		jq:   NewGoJQEngine(),
	}, nil
}

// ForName selects an engine by a branch's `engine` field value. Empty
// selects expr, the default predicate language.
func (e *Engines) ForName(name string) (Engine, error) {
	switch name {
	case "", "expr":
		return e.expr, nil
	case "cel":
		return e.cel, nil
	case "jq":
		return e.jq, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression engine %q; available: cel, expr, jq", name)
	}
}

// JQ exposes the shared jq engine for report summarization.
func (e *Engines) JQ() *GoJQEngine { return e.jq }

// Truthy reduces a predicate result to a branch decision. Booleans count
// as themselves; nil, zero numbers, empty strings, and empty collections
// are false; everything else is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float32:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
