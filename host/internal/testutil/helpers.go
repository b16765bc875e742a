package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/inference-sim/vmhost/host/pickle"
)

// ExitRecorder stands in for os.Exit in tests.
type ExitRecorder struct {
	mu    sync.Mutex
	codes []int
	ch    chan int
}

// NewExitRecorder creates a recorder that can absorb a few calls without blocking.
func NewExitRecorder() *ExitRecorder {
	return &ExitRecorder{ch: make(chan int, 8)}
}

// Func returns the hook to install with host.WithExitFunc.
func (r *ExitRecorder) Func() func(code int) {
	return func(code int) {
		r.mu.Lock()
		r.codes = append(r.codes, code)
		r.mu.Unlock()
		select {
		case r.ch <- code:
		default:
		}
	}
}

// Wait blocks until the hook is called or the timeout passes.
func (r *ExitRecorder) Wait(t *testing.T, timeout time.Duration) int {
	t.Helper()
	select {
	case code := <-r.ch:
		return code
	case <-time.After(timeout):
		t.Fatalf("exit hook not called within %v", timeout)
		return -1
	}
}

// Codes returns every code the hook was called with.
func (r *ExitRecorder) Codes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

// WriteImage packs v into dir/name and returns the file path.
func WriteImage(t *testing.T, dir, name string, v pickle.Value) string {
	t.Helper()
	data, err := pickle.Pack(v)
	if err != nil {
		t.Fatalf("pack image %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write image %s: %v", name, err)
	}
	return path
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
