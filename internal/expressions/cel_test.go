package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/forensicdev/warden/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

// --- Interface compliance ---

func TestCELEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*CELEngine)(nil)
}

// --- Basic evaluation ---

func TestCEL_BooleanLiteral(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "true", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_IntegerArithmetic(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

// --- Decision scope access ---

func TestCEL_WorkflowNamespace(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"workflow": map[string]any{
			"type":  "evidence-collection",
			"state": "running",
			"index": int64(2),
		},
	}

	t.Run("string field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `workflow.type == "evidence-collection"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `workflow.index > 1`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestCEL_AlertsNamespace(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"alerts": []any{
			map[string]any{"rule": "off-hours", "subject": "snap_001"},
			map[string]any{"rule": "anomaly", "subject": "user_A"},
		},
	}

	out, err := e.Evaluate(context.Background(), `size(alerts) >= 2`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `alerts.exists(a, a.rule == "anomaly")`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_ResultsNamespace(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"results": map[string]any{
			"malware-scan": map[string]any{"files_scanned": int64(500)},
		},
	}

	out, err := e.Evaluate(context.Background(), `results["malware-scan"].files_scanned > 100`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_MissingNamespacesDefaultEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(alerts) == 0 && size(params) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Errors ---

func TestCEL_EmptyExpression(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "workflow .", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCEL_UnknownVariableRejected(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// Only the five scope namespaces exist in the environment.
	_, err = e.Evaluate(context.Background(), "steps.x == 1", nil)
	require.Error(t, err)
}

// --- Cache behavior ---

func TestCEL_CacheReuse(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	expr := `workflow.index >= 0`
	_, err = e.Evaluate(context.Background(), expr, map[string]any{"workflow": map[string]any{"index": int64(1)}})
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache[expr]
	e.mu.RUnlock()
	assert.True(t, cached)
}

func TestCEL_ConcurrentEvaluation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `params.threshold < 10`,
				map[string]any{"params": map[string]any{"threshold": int64(5)}})
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
}
