package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionTracker_UncappedWhenZero(t *testing.T) {
	tr := NewConnectionTracker(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, tr.TryRegister("1.2.3.4"))
	}
	assert.Equal(t, uint32(100), tr.Total())
}

func TestConnectionTracker_EnforcesGlobalCap(t *testing.T) {
	tr := NewConnectionTracker(2, 0)

	assert.True(t, tr.TryRegister("1.1.1.1"))
	assert.True(t, tr.TryRegister("2.2.2.2"))
	assert.False(t, tr.TryRegister("3.3.3.3"))
	assert.Equal(t, uint32(2), tr.Total())
}

func TestConnectionTracker_EnforcesPerIPCap(t *testing.T) {
	tr := NewConnectionTracker(0, 2)

	assert.True(t, tr.TryRegister("1.1.1.1"))
	assert.True(t, tr.TryRegister("1.1.1.1"))
	assert.False(t, tr.TryRegister("1.1.1.1"))

	// A different IP is unaffected.
	assert.True(t, tr.TryRegister("2.2.2.2"))
}

func TestConnectionTracker_UnregisterFreesCapacity(t *testing.T) {
	tr := NewConnectionTracker(1, 0)

	assert.True(t, tr.TryRegister("1.1.1.1"))
	assert.False(t, tr.TryRegister("2.2.2.2"))

	tr.Unregister("1.1.1.1")
	assert.True(t, tr.TryRegister("2.2.2.2"))
}

func TestConnectionTracker_UnregisterSaturatesAtZero(t *testing.T) {
	tr := NewConnectionTracker(0, 0)
	tr.Unregister("never-registered")
	assert.Equal(t, uint32(0), tr.Total())
}

func TestConnectionTracker_CanAcceptDoesNotMutate(t *testing.T) {
	tr := NewConnectionTracker(1, 0)
	assert.True(t, tr.CanAccept("1.1.1.1"))
	assert.Equal(t, uint32(0), tr.Total())

	tr.TryRegister("1.1.1.1")
	assert.False(t, tr.CanAccept("2.2.2.2"))
}
