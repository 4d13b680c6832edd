package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/forensicdev/warden/pkg/schema"
)

const paramsPrefix = "params."

// InterpolateParams resolves ${params.<path>} tokens in a step-params
// document against the workflow's input parameters, returning a new
// document. A string that is exactly one token takes the parameter's
// value with its type preserved; embedded tokens are stringified in
// place. Tokens with any other prefix pass through untouched so worker
// commands can carry their own ${...} syntax. Unknown parameter paths
// are an error.
func InterpolateParams(stepParams, workflowParams map[string]any) (map[string]any, error) {
	if stepParams == nil {
		return nil, nil
	}
	out, err := interpolateValue(stepParams, workflowParams)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func interpolateValue(v any, params map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return interpolateString(val, params)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := interpolateValue(item, params)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := interpolateValue(item, params)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// interpolateString scans s for ${...} tokens. The whole-string token
// case returns the parameter value itself rather than its rendering.
func interpolateString(s string, params map[string]any) (any, error) {
	first := strings.Index(s, "${")
	if first == -1 {
		return s, nil
	}

	// Whole-string token: "${params.x}" exactly.
	if first == 0 && strings.HasSuffix(s, "}") && strings.Count(s, "${") == 1 {
		expr := strings.TrimSpace(s[2 : len(s)-1])
		if path, ok := strings.CutPrefix(expr, paramsPrefix); ok {
			return lookupParam(path, params, expr)
		}
		return s, nil
	}

	var result strings.Builder
	result.Grow(len(s))
	for len(s) > 0 {
		idx := strings.Index(s, "${")
		if idx == -1 {
			result.WriteString(s)
			break
		}
		result.WriteString(s[:idx])
		rest := s[idx+2:]

		end := strings.IndexByte(rest, '}')
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeValidation, "unclosed ${ token in step params")
		}
		expr := strings.TrimSpace(rest[:end])

		path, ok := strings.CutPrefix(expr, paramsPrefix)
		if !ok {
			// Not a parameter reference; keep the raw token.
			result.WriteString(s[idx : idx+2+end+1])
			s = rest[end+1:]
			continue
		}

		val, err := lookupParam(path, params, expr)
		if err != nil {
			return nil, err
		}
		result.WriteString(stringify(val))
		s = rest[end+1:]
	}
	return result.String(), nil
}

// lookupParam resolves a dot-delimited path inside the workflow params.
func lookupParam(path string, params map[string]any, expr string) (any, error) {
	if path == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid parameter reference ${%s}: expected ${params.<name>}", expr)
	}
	if params == nil {
		return nil, missingParamErr(path, expr, params)
	}

	// Direct key first, so keys containing dots still resolve.
	if val, ok := params[path]; ok {
		return val, nil
	}

	current := any(params)
	for i, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"cannot traverse into non-object at segment %d of ${%s}", i, expr)
		}
		val, ok := m[seg]
		if !ok {
			return nil, missingParamErr(path, expr, m)
		}
		current = val
	}
	return current, nil
}

func missingParamErr(path, expr string, params map[string]any) error {
	available := make([]string, 0, len(params))
	for k := range params {
		available = append(available, k)
	}
	sort.Strings(available)
	return schema.NewErrorf(schema.ErrCodeValidation,
		"parameter %q not found for ${%s}; available: [%s]", path, expr, strings.Join(available, ", ")).
		WithDetails(map[string]any{"available_params": available})
}

// stringify renders a parameter value for embedding inside a string.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
