// Package spool boots a VM instance for every image file that appears in a
// directory. Images should be moved into the directory atomically (written
// elsewhere, then renamed) so the boot loader never sees a partial file.
package spool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/vmhost/host"
)

// DefaultPattern matches the files the watcher boots.
const DefaultPattern = "*.img"

// Watcher turns file creations in one directory into instances.
type Watcher struct {
	env     *host.Environment
	dir     string
	pattern string

	ready chan struct{}

	mu     sync.Mutex
	booted map[string]int64 // file name → instance ID
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPattern overrides DefaultPattern (filepath.Match syntax).
func WithPattern(pattern string) Option {
	return func(w *Watcher) { w.pattern = pattern }
}

// New creates a watcher for dir. It fails if dir is not a directory or the
// pattern is malformed.
func New(env *host.Environment, dir string, opts ...Option) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("spool: %s is not a directory", dir)
	}
	w := &Watcher{
		env:     env,
		dir:     dir,
		pattern: DefaultPattern,
		ready:   make(chan struct{}),
		booted:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(w)
	}
	if _, err := filepath.Match(w.pattern, ""); err != nil {
		return nil, fmt.Errorf("spool: bad pattern %q: %w", w.pattern, err)
	}
	return w, nil
}

// Ready is closed once the directory is being watched and the watcher
// holds the reactor open.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Booted returns a copy of the file → instance ID map.
func (w *Watcher) Booted() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int64, len(w.booted))
	for k, v := range w.booted {
		out[k] = v
	}
	return out
}

// Run watches until ctx is done or the environment shuts down. While it
// runs it holds a reactor keep-alive, so the host keeps waiting for images
// even when no instance is alive yet.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("spool: watch %s: %w", w.dir, err)
	}

	reactor := w.env.Reactor()
	reactor.Hold()
	defer reactor.Release()
	close(w.ready)
	logrus.Infof("spool: watching %s for %s", w.dir, w.pattern)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.env.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				w.boot(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logrus.Warnf("spool: event overflow, some images may have been missed")
				continue
			}
			logrus.Warnf("spool: %v", err)
		}
	}
}

func (w *Watcher) boot(path string) {
	name := filepath.Base(path)
	if ok, _ := filepath.Match(w.pattern, name); !ok {
		logrus.Debugf("spool: ignoring %s", name)
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return
	}

	w.mu.Lock()
	if _, seen := w.booted[name]; seen {
		w.mu.Unlock()
		return
	}
	w.booted[name] = 0
	w.mu.Unlock()

	inst := w.env.CreateInstance(FileURL(path), true)
	w.mu.Lock()
	w.booted[name] = inst.ID()
	w.mu.Unlock()
	logrus.WithField("instance", inst.ID()).Infof("spool: booted %s", name)
}

// FileURL builds the boot URL for a local path, escaping what the boot
// loader would otherwise decode.
func FileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file:" + (&url.URL{Path: filepath.ToSlash(abs)}).EscapedPath()
}
