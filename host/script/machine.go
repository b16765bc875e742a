package script

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/vmhost/host"
	"github.com/inference-sim/vmhost/host/pickle"
)

// spinCheckEvery is how many spin iterations run between preemption checks.
const spinCheckEvery = 64

// Machine runs one program for one instance. RunStep is only called from
// the instance's scheduling loop; RequestPreempt and SetReferenceTime may
// be called from the reactor goroutine at any time.
type Machine struct {
	inst *host.Instance
	prog pickle.List
	out  *output

	preempt atomic.Bool
	now     atomic.Int64

	pc         int
	spinLeft   int64 // remaining iterations of the current spin; 0 when not spinning
	sleepUntil int64 // reference time the current sleep ends at; -1 when not sleeping
	last       pickle.Value
	stream     *host.StreamReader
	halted     bool

	errMu sync.Mutex
	errs  []error
}

// output serializes writes from every machine built by one factory.
type output struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *output) printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, format, args...)
}

// Option configures a Factory.
type Option func(*factoryConfig)

type factoryConfig struct {
	out io.Writer
}

// WithOutput sends print output to w instead of os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *factoryConfig) { c.out = w }
}

// Factory returns a host.InterpreterFactory that boots script machines.
// The boot value is either a program list (from an image) or YAML source.
func Factory(opts ...Option) host.InterpreterFactory {
	cfg := factoryConfig{out: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}
	out := &output{w: cfg.out}
	return func(inst *host.Instance, initial any) (host.Interpreter, error) {
		var (
			prog pickle.List
			err  error
		)
		switch v := initial.(type) {
		case string:
			prog, err = Compile([]byte(v))
		default:
			prog, err = Validate(v)
		}
		if err != nil {
			return nil, err
		}
		return newMachine(inst, prog, out), nil
	}
}

func newMachine(inst *host.Instance, prog pickle.List, out *output) *Machine {
	return &Machine{inst: inst, prog: prog, out: out, sleepUntil: -1}
}

// RunStep executes instructions until the program yields, blocks, or ends.
func (m *Machine) RunStep() host.Directive {
	for {
		if m.halted {
			return host.Never()
		}
		if m.pc >= len(m.prog) {
			m.halt()
			return host.Never()
		}
		if m.preempt.CompareAndSwap(true, false) {
			return host.Now()
		}

		ins := m.prog[m.pc].(pickle.Tuple)
		switch ins.Label {
		case "spin":
			if d, yielded := m.spin(ins); yielded {
				return d
			}
		case "sleep":
			if d, waiting := m.sleep(ins); waiting {
				return d
			}
		case "recv":
			if m.recv() {
				return host.Never()
			}
		case "exit":
			m.inst.Env().Kill(m.inst, int(m.intOperand(ins, 0)))
			m.halted = true
			return host.Never()
		default:
			m.exec(ins)
		}
		m.pc++
	}
}

// halt drops the machine's interest in its stream so the instance can
// terminate once the queue is empty.
func (m *Machine) halt() {
	m.halted = true
	if m.stream != nil && m.inst != nil {
		m.inst.CloseStream()
	}
}

func (m *Machine) spin(ins pickle.Tuple) (host.Directive, bool) {
	if m.spinLeft == 0 {
		m.spinLeft = m.intOperand(ins, 0)
	}
	for m.spinLeft > 0 {
		m.spinLeft--
		if m.spinLeft%spinCheckEvery == 0 && m.spinLeft > 0 && m.preempt.CompareAndSwap(true, false) {
			return host.Now(), true
		}
	}
	m.spinLeft = 0
	return host.Directive{}, false
}

func (m *Machine) sleep(ins pickle.Tuple) (host.Directive, bool) {
	now := m.now.Load()
	if m.sleepUntil < 0 {
		m.sleepUntil = now + m.intOperand(ins, 0)
	}
	if now < m.sleepUntil {
		return host.Later(m.sleepUntil), true
	}
	m.sleepUntil = -1
	return host.Directive{}, false
}

// recv reports true when the machine must wait for a delivery.
func (m *Machine) recv() bool {
	if m.stream == nil {
		r, err := m.inst.TakeStream()
		if err != nil {
			m.fail(err)
			return false
		}
		m.stream = r
	}
	v, state := m.stream.Next()
	switch state {
	case host.StreamPending:
		return true
	case host.StreamEnd:
		m.last = nil
	default:
		m.last = v
	}
	return false
}

func (m *Machine) exec(ins pickle.Tuple) {
	switch ins.Label {
	case "send":
		if err := host.Send(m.inst, m.intOperand(ins, 0), m.operand(ins, 1)); err != nil {
			m.fail(err)
		}
	case "print":
		m.out.printf("[%d] %s\n", m.id(), pickle.Format(m.operand(ins, 0)))
	case "monitor":
		if err := m.inst.Env().AddMonitor(m.inst.ID(), m.intOperand(ins, 0)); err != nil {
			m.fail(err)
		}
	case "spawn":
		url, ok := m.operand(ins, 0).(pickle.String)
		if !ok {
			url = pickle.String(pickle.Format(m.operand(ins, 0)))
		}
		m.last = pickle.Int(m.inst.Env().CreateInstance(string(url), true).ID())
	case "kill":
		if err := m.inst.Env().KillID(m.intOperand(ins, 0), int(m.intOperand(ins, 1))); err != nil {
			m.fail(err)
		}
	case "close":
		m.inst.CloseStream()
	case "uuid":
		m.last = pickle.String(m.inst.NewUUID().String())
	}
}

func (m *Machine) operand(ins pickle.Tuple, i int) pickle.Value {
	v := ins.Field(i)
	switch v {
	case AtomSelf:
		return pickle.Int(m.id())
	case AtomLast:
		return m.last
	}
	return v
}

func (m *Machine) intOperand(ins pickle.Tuple, i int) int64 {
	switch v := m.operand(ins, i).(type) {
	case pickle.Int:
		return int64(v)
	case pickle.Float:
		return int64(v)
	default:
		m.fail(fmt.Errorf("%s: operand %d is not a number: %s", ins.Label, i, pickle.Format(v)))
		return 0
	}
}

func (m *Machine) id() int64 {
	if m.inst == nil {
		return 0
	}
	return m.inst.ID()
}

func (m *Machine) fail(err error) {
	logrus.WithFields(logrus.Fields{"instance": m.id(), "pc": m.pc}).Warnf("script: %v", err)
	m.ReceiveError(err)
}

// RequestPreempt asks the running step to yield at its next safe point.
func (m *Machine) RequestPreempt() { m.preempt.Store(true) }

// SetReferenceTime updates the clock used by sleep.
func (m *Machine) SetReferenceTime(ms int64) { m.now.Store(ms) }

// Property exposes the codec entry points.
func (m *Machine) Property(name string) (any, bool) {
	switch name {
	case pickle.PackProperty:
		return pickle.PackFunc(pickle.Pack), true
	case pickle.UnpackProperty:
		return pickle.UnpackFunc(pickle.Unpack), true
	}
	return nil, false
}

// ReceiveError records an instance-local error.
func (m *Machine) ReceiveError(err error) {
	m.errMu.Lock()
	m.errs = append(m.errs, err)
	m.errMu.Unlock()
}

// Errors returns the instance-local errors seen so far.
func (m *Machine) Errors() []error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return append([]error(nil), m.errs...)
}

// PC returns the index of the next instruction.
func (m *Machine) PC() int { return m.pc }

var (
	_ host.Interpreter   = (*Machine)(nil)
	_ host.ErrorReceiver = (*Machine)(nil)
)
