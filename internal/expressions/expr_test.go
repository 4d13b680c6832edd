package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/forensicdev/warden/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

// --- Basic evaluation ---

func TestExpr_BooleanLiteral(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "true", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "2 * 21", nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

// --- Decision predicates ---

func TestExpr_AlertFiltering(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"alerts": []any{
			map[string]any{"rule": "anomaly", "subject": "user_A"},
			map[string]any{"rule": "off-hours", "subject": "snap_003"},
			map[string]any{"rule": "anomaly", "subject": "user_C"},
		},
	}

	out, err := e.Evaluate(context.Background(), `len(filter(alerts, .rule == "anomaly")) == 2`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_AnyOverProcesses(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"processes": []any{
			map[string]any{"type": "disk-imaging", "state": "completed"},
			map[string]any{"type": "malware-scan", "state": "error"},
		},
	}

	out, err := e.Evaluate(context.Background(), `any(processes, .state == "error")`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_NilCoalescing(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"results": map[string]any{},
	}

	out, err := e.Evaluate(context.Background(), `results?.missing?.count ?? 0`, data)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestExpr_UndefinedVariableIsNil(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), `nonexistent == nil`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Errors ---

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "1 +", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

// --- Cache behavior ---

func TestExpr_ConcurrentEvaluation(t *testing.T) {
	e := NewExprEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `params.n > 0`,
				map[string]any{"params": map[string]any{"n": 7}})
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
}
