package host

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runReactor(r *Reactor) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	return cancel, errc
}

func TestReactor_Run_NoHolders_ReturnsImmediately(t *testing.T) {
	r := NewReactor()
	assert.NoError(t, r.Run(context.Background()))
}

func TestReactor_AfterFunc_FiresInDeadlineOrder(t *testing.T) {
	// GIVEN a held reactor with timers scheduled out of order
	r := NewReactor()
	r.Hold()
	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				r.Release()
			}
		}
	}
	now := time.Now()
	r.AfterFunc(now.Add(30*time.Millisecond), record("c"))
	r.AfterFunc(now.Add(10*time.Millisecond), record("a"))
	r.AfterFunc(now.Add(20*time.Millisecond), record("b"))
	require.Equal(t, 3, r.Pending())

	// WHEN the reactor runs
	cancel, errc := runReactor(r)
	defer cancel()

	// THEN it fires a, b, c and returns once the last holder releases
	require.NoError(t, <-errc)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, r.Pending())
}

func TestReactor_SameDeadline_FiresInSchedulingOrder(t *testing.T) {
	r := NewReactor()
	r.Hold()
	var order []int
	when := time.Now().Add(5 * time.Millisecond)
	for i := 0; i < 5; i++ {
		i := i
		r.AfterFunc(when, func() {
			order = append(order, i)
			if i == 4 {
				r.Release()
			}
		})
	}

	cancel, errc := runReactor(r)
	defer cancel()

	require.NoError(t, <-errc)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestReactor_Stop_PreventsFiring(t *testing.T) {
	// GIVEN a pending timer that is stopped before its deadline
	r := NewReactor()
	r.Hold()
	fired := make(chan struct{}, 1)
	tm := r.AfterFunc(time.Now().Add(10*time.Millisecond), func() { fired <- struct{}{} })
	assert.True(t, r.Stop(tm))
	assert.False(t, r.Stop(tm), "second Stop must report nothing pending")
	r.AfterFunc(time.Now().Add(30*time.Millisecond), r.Release)

	// WHEN the reactor runs to completion
	cancel, errc := runReactor(r)
	defer cancel()
	require.NoError(t, <-errc)

	// THEN the stopped timer never ran
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	default:
	}
	assert.False(t, r.Stop(nil))
}

func TestReactor_Run_ContextCancel(t *testing.T) {
	r := NewReactor()
	r.Hold()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 1, r.Holds())
}

func TestReactor_Release_WithoutHold_Panics(t *testing.T) {
	r := NewReactor()
	assert.PanicsWithValue(t, "Reactor.Release: no matching Hold", func() {
		r.Release()
	})
}

func TestReactor_AfterFunc_NilPanics(t *testing.T) {
	r := NewReactor()
	assert.PanicsWithValue(t, "Reactor.AfterFunc: fn must not be nil", func() {
		r.AfterFunc(time.Now(), nil)
	})
}

func TestReactor_EarlierTimerAddedWhileSleeping_WakesRun(t *testing.T) {
	// GIVEN a reactor sleeping toward a far deadline
	r := NewReactor()
	r.Hold()
	r.AfterFunc(time.Now().Add(time.Hour), func() {})
	cancel, errc := runReactor(r)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	// WHEN a much earlier timer is added
	fired := make(chan struct{})
	r.AfterFunc(time.Now().Add(time.Millisecond), func() { close(fired) })

	// THEN it fires without waiting for the far one
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("earlier timer did not preempt the sleep")
	}
	r.Release()
	require.NoError(t, <-errc)
}
