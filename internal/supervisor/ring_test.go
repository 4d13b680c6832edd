package supervisor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- Log Ring Tests ---

func TestLogRing_PreservesOrder(t *testing.T) {
	r := newLogRing(5)
	r.Append("one")
	r.Append("two")
	r.Append("three")

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"one", "two", "three"}, r.Snapshot())
}

func TestLogRing_EvictsOldest(t *testing.T) {
	r := newLogRing(1000)
	for i := 0; i < 1500; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	snap := r.Snapshot()
	assert.Equal(t, 1000, r.Len())
	assert.Equal(t, "line 500", snap[0])
	assert.Equal(t, "line 1499", snap[999])
}

func TestLogRing_WrapsRepeatedly(t *testing.T) {
	r := newLogRing(3)
	for i := 0; i < 10; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	assert.Equal(t, []string{"line 7", "line 8", "line 9"}, r.Snapshot())
}

func TestLogRing_DefaultCapacity(t *testing.T) {
	r := newLogRing(0)
	for i := 0; i < defaultLogCapacity+1; i++ {
		r.Append("x")
	}
	assert.Equal(t, defaultLogCapacity, r.Len())
}

func TestLogRing_EmptySnapshot(t *testing.T) {
	r := newLogRing(4)
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, 0, r.Len())
}
