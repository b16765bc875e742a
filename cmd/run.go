package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/vmhost/host"
	"github.com/inference-sim/vmhost/host/spool"
	"github.com/inference-sim/vmhost/host/trace"
)

// closeTimeout bounds how long an interrupted run waits for loops to stop.
const closeTimeout = 5 * time.Second

// runOptions is everything the run command resolved from flags and config.
type runOptions struct {
	Config     host.Config
	Instances  []InstanceSpec
	Spool      string
	Metrics    bool
	TraceLevel trace.TraceLevel
	ExitOnLast bool
}

// runHost boots every instance, drives the reactor, and reports. exit is
// called from the exit hook when the last instance dies and ExitOnLast is
// set; the CLI passes os.Exit. An interrupted run never calls exit: it
// waits for every loop to stop and returns instead. The returned code is the environment's exit
// code for callers whose exit func returns.
func runHost(ctx context.Context, opts runOptions, factory host.InterpreterFactory, out io.Writer, exit func(int)) (int, error) {
	if len(opts.Instances) == 0 && opts.Spool == "" {
		return 1, errors.New("nothing to run: pass an image, --eval source, --spool directory, or a config with instances")
	}

	var rec *trace.Recorder
	if opts.TraceLevel != "" {
		rec = trace.NewRecorder(opts.TraceLevel)
	}

	var reportOnce sync.Once
	var environment *host.Environment
	var closing atomic.Bool // set while an interrupted run winds down
	hook := func(code int) {
		if opts.ExitOnLast && exit != nil && !closing.Load() {
			reportOnce.Do(func() { printReports(out, environment, opts, rec) })
			exit(code)
		}
	}
	hostOpts := []host.Option{host.WithExitFunc(hook)}
	if rec != nil {
		hostOpts = append(hostOpts, host.WithTrace(rec))
	}
	environment = host.NewEnvironment(opts.Config, factory, hostOpts...)

	var watcher *spool.Watcher
	if opts.Spool != "" {
		w, err := spool.New(environment, opts.Spool)
		if err != nil {
			return 1, err
		}
		watcher = w
	}

	for _, spec := range opts.Instances {
		inst := environment.CreateInstance(spec.Program, spec.URL)
		program, isURL := inst.Program()
		logrus.WithField("instance", inst.ID()).Infof("created from %q (url=%t)", program, isURL)
	}

	g, gctx := errgroup.WithContext(ctx)
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
		select {
		case <-watcher.Ready():
		case <-gctx.Done():
		}
	}
	g.Go(func() error { return environment.Run(gctx) })

	err := g.Wait()
	if err != nil && errors.Is(err, ctx.Err()) {
		logrus.Warnf("interrupted, stopping %d instance(s)", environment.Alive())
		closing.Store(true)
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := environment.Close(closeCtx); cerr != nil {
			return 1, fmt.Errorf("stop instances: %w", cerr)
		}
		err = nil
	}
	reportOnce.Do(func() { printReports(out, environment, opts, rec) })
	if err != nil {
		return 1, err
	}
	return environment.ExitCode(), nil
}

func printReports(out io.Writer, env *host.Environment, opts runOptions, rec *trace.Recorder) {
	if opts.Metrics {
		env.Metrics().Print(out)
	}
	if rec != nil {
		trace.Summarize(rec).Print(out)
	}
}
