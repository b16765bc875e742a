package host

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inference-sim/vmhost/host/internal/testutil"
	"github.com/inference-sim/vmhost/host/pickle"
)

// stepFunc is the body of one fake RunStep.
type stepFunc func(f *fakeInterp) Directive

// fakeInterp is a scriptable Interpreter. Its step function runs on the
// instance loop; everything the test reads back is guarded.
type fakeInterp struct {
	inst  *Instance
	step  stepFunc
	props map[string]any

	preemptFlag atomic.Bool
	preempts    atomic.Int64
	now         atomic.Int64
	steps       atomic.Int64

	reader *StreamReader // loop goroutine only

	mu       sync.Mutex
	received []pickle.Value
	errs     []error
}

func codecProps() map[string]any {
	return map[string]any{
		pickle.PackProperty:   pickle.PackFunc(pickle.Pack),
		pickle.UnpackProperty: pickle.UnpackFunc(pickle.Unpack),
	}
}

func (f *fakeInterp) RunStep() Directive {
	f.steps.Add(1)
	if f.step == nil {
		return Never()
	}
	return f.step(f)
}

func (f *fakeInterp) RequestPreempt() {
	f.preempts.Add(1)
	f.preemptFlag.Store(true)
}

func (f *fakeInterp) SetReferenceTime(ms int64) { f.now.Store(ms) }

func (f *fakeInterp) Property(name string) (any, bool) {
	v, ok := f.props[name]
	return v, ok
}

func (f *fakeInterp) ReceiveError(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

// drain takes the stream on first use and moves every buffered value into
// received. It returns the state of the last read.
func (f *fakeInterp) drain() StreamState {
	if f.reader == nil {
		r, err := f.inst.TakeStream()
		if err != nil {
			f.ReceiveError(err)
			return StreamEnd
		}
		f.reader = r
	}
	for {
		v, st := f.reader.Next()
		if st != StreamItem {
			return st
		}
		f.mu.Lock()
		f.received = append(f.received, v)
		f.mu.Unlock()
	}
}

func (f *fakeInterp) Received() []pickle.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pickle.Value(nil), f.received...)
}

func (f *fakeInterp) Errors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

// receiveForever keeps the instance alive on its stream until it is killed.
func receiveForever(f *fakeInterp) Directive {
	f.drain()
	return Never()
}

// receiveN closes the port after n values so the instance can end naturally.
func receiveN(n int) stepFunc {
	return func(f *fakeInterp) Directive {
		f.drain()
		if len(f.Received()) >= n {
			f.inst.CloseStream()
		}
		return Never()
	}
}

// fakeSet builds one fakeInterp per instance and keeps them for inspection.
type fakeSet struct {
	mu    sync.Mutex
	byID  map[int64]*fakeInterp
	steps func(id int64) stepFunc
	props func(id int64) map[string]any
}

func newFakeSet(steps func(id int64) stepFunc) *fakeSet {
	return &fakeSet{byID: make(map[int64]*fakeInterp), steps: steps}
}

func allSteps(step stepFunc) func(int64) stepFunc {
	return func(int64) stepFunc { return step }
}

func (s *fakeSet) factory() InterpreterFactory {
	return func(inst *Instance, initial any) (Interpreter, error) {
		props := codecProps()
		if s.props != nil {
			props = s.props(inst.ID())
		}
		f := &fakeInterp{inst: inst, step: s.steps(inst.ID()), props: props}
		s.mu.Lock()
		s.byID[inst.ID()] = f
		s.mu.Unlock()
		return f, nil
	}
}

// get waits for instance id to have booted its interpreter.
func (s *fakeSet) get(t *testing.T, id int64) *fakeInterp {
	t.Helper()
	var f *fakeInterp
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		f = s.byID[id]
		return f != nil
	}, 2*time.Second, time.Millisecond, "instance %d never booted", id)
	return f
}

func newTestEnv(t *testing.T, factory InterpreterFactory, opts ...Option) (*Environment, *testutil.ExitRecorder) {
	t.Helper()
	exits := testutil.NewExitRecorder()
	opts = append(opts, WithExitFunc(exits.Func()))
	return NewEnvironment(DefaultConfig(), factory, opts...), exits
}

// startReactor runs env.Run in the background. The returned func waits for
// it to return and checks it ended naturally.
func startReactor(t *testing.T, env *Environment) func() {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	errc := make(chan error, 1)
	go func() { errc <- env.Run(ctx) }()
	return func() {
		t.Helper()
		defer cancel()
		require.NoError(t, <-errc)
	}
}

func waitDone(t *testing.T, inst *Instance) {
	t.Helper()
	select {
	case <-inst.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("instance %d did not stop", inst.ID())
	}
}

func contextWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
