package trace

import "sync"

// TraceLevel controls the verbosity of lifecycle tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelLifecycle captures creation, kills, terminations and notices.
	TraceLevelLifecycle TraceLevel = "lifecycle"
	// TraceLevelMessages additionally captures every message sent, delivered or dropped.
	TraceLevelMessages TraceLevel = "messages"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelLifecycle: true,
	TraceLevelMessages:  true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Recorder collects records from many goroutines.
type Recorder struct {
	level   TraceLevel
	mu      sync.Mutex
	records []Record
}

// NewRecorder creates a Recorder. It returns nil for TraceLevelNone so that
// callers can skip tracing with a nil check.
func NewRecorder(level TraceLevel) *Recorder {
	if level == TraceLevelNone || level == "" {
		return nil
	}
	return &Recorder{level: level, records: make([]Record, 0)}
}

// Level returns the configured level, TraceLevelNone for a nil recorder.
func (r *Recorder) Level() TraceLevel {
	if r == nil {
		return TraceLevelNone
	}
	return r.level
}

// Record appends r unless its kind is filtered out by the level.
func (r *Recorder) Record(rec Record) {
	if r == nil {
		return
	}
	if rec.IsMessage() && r.level != TraceLevelMessages {
		return
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Records returns a copy of everything recorded so far, in arrival order.
func (r *Recorder) Records() []Record {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
