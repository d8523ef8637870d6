package recovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

func testLogger() logger.Logger { return logger.NewDefaultLogger("recovery_test", "ERROR") }

type fakeDriver struct {
	probeOutput      string
	probeErr         error
	active           atomic.Bool
	stopLeavesActive bool // simulates a stuck child that Stop can't actually kill
	stopCalls        atomic.Int32
	interruptCalls   atomic.Int32
}

func (f *fakeDriver) CancelCurrent() { f.interruptCalls.Add(1) }
func (f *fakeDriver) Execute(ctx context.Context, command string, cancelSignal <-chan struct{}) (string, error) {
	return f.probeOutput, f.probeErr
}
func (f *fakeDriver) Stop() bool {
	f.stopCalls.Add(1)
	f.active.Store(f.stopLeavesActive)
	return true
}
func (f *fakeDriver) IsActive() bool { return f.active.Load() }

type fakeQueue struct{ cancelAllCalls atomic.Int32 }

func (f *fakeQueue) CancelAll(reason string) int {
	f.cancelAllCalls.Add(1)
	return 0
}

func TestRecover_ProbeSucceeds_BecomesHealthy(t *testing.T) {
	d := &fakeDriver{probeOutput: "1.2.3"}
	q := &fakeQueue{}
	bus := notify.New(testLogger())
	c := New("s1", d, q, bus, testLogger(), Options{InterruptWait: time.Millisecond, ProbeTimeout: time.Second})

	c.Recover("stuck")
	assert.Equal(t, Healthy, c.StateSnapshot())
	assert.Equal(t, int32(1), q.cancelAllCalls.Load())
	assert.Equal(t, int32(1), d.interruptCalls.Load())
	assert.Equal(t, int32(0), d.stopCalls.Load())
}

func TestRecover_ProbeFails_EscalatesToForceRestart(t *testing.T) {
	d := &fakeDriver{probeOutput: ""}
	d.active.Store(true) // stopping it will succeed, leaving it not active
	q := &fakeQueue{}
	bus := notify.New(testLogger())
	c := New("s1", d, q, bus, testLogger(), Options{InterruptWait: time.Millisecond, ProbeTimeout: time.Second})

	c.Recover("stuck")
	assert.Equal(t, Healthy, c.StateSnapshot())
	assert.Equal(t, int32(1), d.stopCalls.Load())
	assert.False(t, d.IsActive())
}

func TestRecover_ForceRestartFails_EntersFailedAfterThreshold(t *testing.T) {
	d := &fakeDriver{probeOutput: "", stopLeavesActive: true}
	q := &fakeQueue{}
	bus := notify.New(testLogger())
	c := New("s1", d, q, bus, testLogger(), Options{InterruptWait: time.Millisecond, ProbeTimeout: time.Second, MaxAttempts: 2})

	c.Recover("stuck")
	assert.NotEqual(t, Failed, c.StateSnapshot())
	c.Recover("stuck again")
	assert.Equal(t, Failed, c.StateSnapshot())
	assert.False(t, c.IsHealthy())
}

func TestRecover_ConcurrentCallsCoalesce(t *testing.T) {
	d := &fakeDriver{probeOutput: "ok"}
	q := &fakeQueue{}
	bus := notify.New(testLogger())
	c := New("s1", d, q, bus, testLogger(), Options{InterruptWait: 50 * time.Millisecond, ProbeTimeout: time.Second})

	done := make(chan struct{}, 2)
	go func() { c.Recover("a"); done <- struct{}{} }()
	go func() { c.Recover("b"); done <- struct{}{} }()
	<-done
	<-done

	// Only one cycle should have actually run to completion (the second call was a no-op
	// while the first was in flight), so CancelAll fires once, not twice.
	assert.LessOrEqual(t, int(q.cancelAllCalls.Load()), 1)
}

func TestReset_ClearsAttemptsAndFailedState(t *testing.T) {
	d := &fakeDriver{probeOutput: "", stopLeavesActive: true}
	q := &fakeQueue{}
	bus := notify.New(testLogger())
	c := New("s1", d, q, bus, testLogger(), Options{InterruptWait: time.Millisecond, ProbeTimeout: time.Second, MaxAttempts: 1})

	c.Recover("stuck")
	require.Equal(t, Failed, c.StateSnapshot())

	c.Reset()
	assert.Equal(t, Healthy, c.StateSnapshot())
	assert.True(t, c.IsHealthy())
}
