package host

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPreemptionTimer_NonPositiveInterval_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "PreemptionTimer: interval must be > 0", func() {
		NewPreemptionTimer(NewReactor(), 0, func() {})
	})
}

func TestPreemptionTimer_RearmsUntilStopped(t *testing.T) {
	// GIVEN a running preemption timer with a 2ms interval
	r := NewReactor()
	r.Hold()
	cancel, errc := runReactor(r)
	defer cancel()
	var fired atomic.Int64
	p := NewPreemptionTimer(r, 2*time.Millisecond, func() { fired.Add(1) })

	// WHEN it is started
	p.Start()

	// THEN it fires repeatedly
	require.Eventually(t, func() bool { return fired.Load() >= 3 }, 2*time.Second, time.Millisecond)

	// WHEN stopped
	p.Stop()
	stoppedAt := fired.Load()
	time.Sleep(20 * time.Millisecond)

	// THEN at most an expiry already in flight lands afterwards
	assert.LessOrEqual(t, fired.Load(), stoppedAt+1)
	p.Stop()

	r.Release()
	require.NoError(t, <-errc)
}

func TestPreemptionTimer_RestartDiscardsStaleExpiry(t *testing.T) {
	r := NewReactor()
	r.Hold()
	cancel, errc := runReactor(r)
	defer cancel()
	var fired atomic.Int64
	p := NewPreemptionTimer(r, 50*time.Millisecond, func() { fired.Add(1) })

	p.Start()
	p.Stop()
	p.Start()
	p.Stop()
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, int64(0), fired.Load())
	assert.Equal(t, 0, r.Pending())
	r.Release()
	require.NoError(t, <-errc)
}

func TestAlarmTimer_ArmFiresOnce(t *testing.T) {
	// GIVEN an armed alarm
	r := NewReactor()
	r.Hold()
	cancel, errc := runReactor(r)
	defer cancel()
	var fired atomic.Int64
	a := NewAlarmTimer(r, func() { fired.Add(1) })
	a.Arm(time.Now().Add(5 * time.Millisecond))
	assert.True(t, a.Armed())

	// WHEN its deadline passes
	require.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, time.Millisecond)

	// THEN it disarms itself and cancelling is a no-op
	assert.False(t, a.Armed())
	a.Cancel()
	a.Cancel()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(1), fired.Load())

	r.Release()
	require.NoError(t, <-errc)
}

func TestAlarmTimer_CancelBeforeDeadline(t *testing.T) {
	r := NewReactor()
	r.Hold()
	cancel, errc := runReactor(r)
	defer cancel()
	var fired atomic.Int64
	a := NewAlarmTimer(r, func() { fired.Add(1) })

	a.Arm(time.Now().Add(10 * time.Millisecond))
	a.Cancel()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int64(0), fired.Load())
	assert.False(t, a.Armed())
	r.Release()
	require.NoError(t, <-errc)
}

func TestAlarmTimer_RearmReplacesPrevious(t *testing.T) {
	r := NewReactor()
	r.Hold()
	cancel, errc := runReactor(r)
	defer cancel()
	var fired atomic.Int64
	a := NewAlarmTimer(r, func() { fired.Add(1) })

	a.Arm(time.Now().Add(5 * time.Millisecond))
	a.Arm(time.Now().Add(15 * time.Millisecond))

	require.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), fired.Load())
	r.Release()
	require.NoError(t, <-errc)
}
