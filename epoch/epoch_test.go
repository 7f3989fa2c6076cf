package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelayedRunsAfterGuardExits(t *testing.T) {
	e := New()
	g := e.Enter()

	ran := false
	e.Delayed(func() { ran = true })
	assert.False(t, ran, "delayed callback must not run while the retiring guard is still active")

	g.Exit()
	assert.True(t, ran, "delayed callback must run once the guard that could observe it exits")
}

func TestDelayedWaitsForOlderGuard(t *testing.T) {
	e := New()
	g1 := e.Enter()
	g2 := e.Enter()

	ran := false
	e.Delayed(func() { ran = true })

	g2.Exit()
	assert.False(t, ran, "g1 entered before the retire and is still active")

	g1.Exit()
	assert.True(t, ran)
}

func TestDelayedRunsImmediatelyWithNoActiveGuards(t *testing.T) {
	e := New()
	ran := false
	e.Delayed(func() { ran = true })
	assert.True(t, ran, "no guard is active, so nothing could still hold a stale pointer")
}
