package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/vmhost/host/trace"
)

// Environment is the process-wide registry of VM instances.
//
// It allocates identifiers, tracks how many instances are still alive,
// owns the shared Reactor, and calls the exit hook exactly once when the
// alive count reaches zero. There is no package-level state: everything an
// instance needs is reachable from its Environment.
type Environment struct {
	config  Config
	factory InterpreterFactory
	reactor *Reactor
	epoch   time.Time
	metrics *Metrics
	trace   *trace.Recorder

	mu         sync.Mutex // guards instances, nextID, alive, bootLoader
	instances  []*Instance
	nextID     int64
	alive      int64
	bootLoader BootLoader

	exit     func(code int)
	exitOnce sync.Once
	exitCode int
	done     chan struct{}
}

// Option customizes an Environment at construction.
type Option func(*Environment)

// WithExitFunc installs the hook called when the last instance dies.
// The CLI passes os.Exit; the default only records the code.
func WithExitFunc(fn func(code int)) Option {
	return func(env *Environment) { env.exit = fn }
}

// WithBootLoader replaces DefaultBootLoader.
func WithBootLoader(loader BootLoader) Option {
	return func(env *Environment) { env.bootLoader = loader }
}

// WithTrace records lifecycle events into rec.
func WithTrace(rec *trace.Recorder) Option {
	return func(env *Environment) { env.trace = rec }
}

// NewEnvironment creates an empty registry. Panics if factory is nil or the
// configuration is invalid.
func NewEnvironment(config Config, factory InterpreterFactory, opts ...Option) *Environment {
	if factory == nil {
		panic("Environment: interpreter factory must not be nil")
	}
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("Environment: %v", err))
	}
	env := &Environment{
		config:     config,
		factory:    factory,
		reactor:    NewReactor(),
		epoch:      time.Now(),
		metrics:    &Metrics{},
		bootLoader: DefaultBootLoader,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// Config returns the runtime configuration.
func (env *Environment) Config() Config { return env.config }

// Reactor returns the shared timer substrate.
func (env *Environment) Reactor() *Reactor { return env.reactor }

// Metrics returns the live counters.
func (env *Environment) Metrics() *Metrics { return env.metrics }

// Trace returns the lifecycle recorder, or nil when tracing is off.
func (env *Environment) Trace() *trace.Recorder { return env.trace }

// ReferenceTime returns milliseconds elapsed since the environment was created.
func (env *Environment) ReferenceTime() int64 {
	return time.Since(env.epoch).Milliseconds()
}

// TimeOf converts a reference time back to wall-clock time.
func (env *Environment) TimeOf(ref int64) time.Time {
	return env.epoch.Add(time.Duration(ref) * time.Millisecond)
}

// SetBootLoader replaces the hook used for URL programs.
func (env *Environment) SetBootLoader(loader BootLoader) {
	if loader == nil {
		loader = DefaultBootLoader
	}
	env.mu.Lock()
	env.bootLoader = loader
	env.mu.Unlock()
}

// CreateInstance allocates the next identifier and starts a new instance.
// When isURL is true, program is resolved through the boot loader;
// otherwise the program string itself is the boot value.
func (env *Environment) CreateInstance(program string, isURL bool) *Instance {
	env.mu.Lock()
	env.nextID++
	inst := newInstance(env, env.nextID, program, isURL)
	env.instances = append(env.instances, inst)
	env.alive++
	env.mu.Unlock()

	// Released by terminate.
	env.reactor.Hold()
	env.metrics.InstancesCreated.Add(1)
	env.record(trace.Record{Kind: trace.KindCreated, Instance: inst.id, Detail: program})
	logrus.WithField("instance", inst.id).Debugf("instance created")

	go inst.start()
	return inst
}

func (env *Environment) boot(inst *Instance) (Interpreter, error) {
	var initial any = inst.program
	if inst.isURL {
		env.mu.Lock()
		loader := env.bootLoader
		env.mu.Unlock()

		v, ok, err := loader(inst.program)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", inst.program, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBootImageNotFound, inst.program)
		}
		initial = v
	}
	return env.factory(inst, initial)
}

// Lookup finds an instance by identifier.
func (env *Environment) Lookup(id int64) (*Instance, error) {
	env.mu.Lock()
	defer env.mu.Unlock()
	for _, inst := range env.instances {
		if inst.id == id {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownInstance, id)
}

// ListAlive returns the identifiers of instances that are still running,
// in creation order.
func (env *Environment) ListAlive() []int64 {
	env.mu.Lock()
	defer env.mu.Unlock()
	ids := make([]int64, 0, len(env.instances))
	for _, inst := range env.instances {
		if inst.IsRunning() {
			ids = append(ids, inst.id)
		}
	}
	return ids
}

// Instances returns every instance ever created, in creation order.
func (env *Environment) Instances() []*Instance {
	env.mu.Lock()
	defer env.mu.Unlock()
	out := make([]*Instance, len(env.instances))
	copy(out, env.instances)
	return out
}

// Alive returns the number of instances not yet terminated or killed.
func (env *Environment) Alive() int64 {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.alive
}

// AddMonitor makes observer receive terminated(observed) when observed dies.
func (env *Environment) AddMonitor(observer, observed int64) error {
	if _, err := env.Lookup(observer); err != nil {
		return err
	}
	target, err := env.Lookup(observed)
	if err != nil {
		return err
	}
	return target.AddMonitor(observer)
}

// Kill requests termination of inst. Termination itself runs later on the
// instance's own goroutine. If inst was the last live instance, the exit
// hook is called with exitCode. Killing a non-running instance is a no-op.
func (env *Environment) Kill(inst *Instance, exitCode int) {
	if !inst.state.CompareAndSwap(int32(StateRunning), int32(StateTerminating)) {
		return
	}
	logrus.WithField("instance", inst.id).Debugf("kill requested (exit code %d)", exitCode)
	env.record(trace.Record{Kind: trace.KindKilled, Instance: inst.id, Detail: fmt.Sprintf("exit code %d", exitCode)})
	inst.queue.Push(&TerminateEvent{})
	env.instanceDown(exitCode)
}

// KillID is Kill by identifier.
func (env *Environment) KillID(id int64, exitCode int) error {
	inst, err := env.Lookup(id)
	if err != nil {
		return err
	}
	env.Kill(inst, exitCode)
	return nil
}

// instanceDown is called exactly once per instance, when it leaves the
// running state.
func (env *Environment) instanceDown(exitCode int) {
	env.mu.Lock()
	env.alive--
	last := env.alive == 0
	env.mu.Unlock()
	if last {
		env.shutdown(exitCode)
	}
}

func (env *Environment) shutdown(code int) {
	env.exitOnce.Do(func() {
		logrus.Infof("last instance gone, exiting with code %d", code)
		env.mu.Lock()
		env.exitCode = code
		env.mu.Unlock()
		close(env.done)
		if env.exit != nil {
			env.exit(code)
		}
	})
}

// Done is closed when the alive count reaches zero.
func (env *Environment) Done() <-chan struct{} { return env.done }

// ExitCode returns the code passed to the exit hook. Only meaningful after Done.
func (env *Environment) ExitCode() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.exitCode
}

// Run drives the reactor until every instance has released its keep-alive
// or ctx is done.
func (env *Environment) Run(ctx context.Context) error {
	return env.reactor.Run(ctx)
}

// Close kills every running instance with exit code 0 and waits for their
// loops to exit. The reactor must still be running for sleeping instances
// to observe the request.
func (env *Environment) Close(ctx context.Context) error {
	for _, inst := range env.Instances() {
		env.Kill(inst, 0)
	}
	for _, inst := range env.Instances() {
		select {
		case <-inst.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (env *Environment) record(r trace.Record) {
	if env.trace == nil {
		return
	}
	if r.Clock == 0 {
		r.Clock = env.ReferenceTime()
	}
	env.trace.Record(r)
}
