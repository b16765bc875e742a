package trace

import (
	"fmt"
	"io"
	"sort"
)

// TraceSummary aggregates statistics from a Recorder.
type TraceSummary struct {
	Level        TraceLevel
	TotalRecords int
	ByKind       map[Kind]int
	Delivered    map[int64]int // instance ID → values appended to its stream
	Terminated   []int64       // instance IDs in termination order
}

// Summarize computes aggregate statistics from a Recorder.
// Safe for nil or empty recorders (returns zero-value fields).
func Summarize(r *Recorder) *TraceSummary {
	summary := &TraceSummary{
		Level:     r.Level(),
		ByKind:    make(map[Kind]int),
		Delivered: make(map[int64]int),
	}
	records := r.Records()
	summary.TotalRecords = len(records)
	for _, rec := range records {
		summary.ByKind[rec.Kind]++
		switch rec.Kind {
		case KindDelivered:
			summary.Delivered[rec.Instance]++
		case KindTerminated:
			summary.Terminated = append(summary.Terminated, rec.Instance)
		}
	}
	return summary
}

// Print writes the summary in a stable order.
func (s *TraceSummary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Level                : %s\n", s.Level)
	fmt.Fprintf(w, "Records              : %d\n", s.TotalRecords)
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-19s: %d\n", k, s.ByKind[Kind(k)])
	}
	if len(s.Terminated) > 0 {
		fmt.Fprintf(w, "Termination Order    : %v\n", s.Terminated)
	}
}
