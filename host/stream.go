package host

import (
	"sync"

	"github.com/inference-sim/vmhost/host/pickle"
)

// StreamState describes the outcome of StreamReader.Next.
type StreamState int

const (
	StreamItem    StreamState = iota // a value was returned
	StreamPending                    // nothing yet; the tail is still unbound
	StreamEnd                        // the stream was closed and fully consumed
)

func (s StreamState) String() string {
	switch s {
	case StreamItem:
		return "item"
	case StreamPending:
		return "pending"
	case StreamEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Stream is an instance's inbound mailbox: an ordered, unbounded sequence
// that other instances extend with messages. Its head can be handed out
// once; closing binds whatever tail remains to end-of-stream.
//
// Thread-safety: all methods are safe for concurrent use.
type Stream struct {
	mu     sync.Mutex
	items  []pickle.Value
	taken  bool
	closed bool
}

// Append extends the stream. It reports false, and drops v, once closed.
func (s *Stream) Append(v pickle.Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.items = append(s.items, v)
	return true
}

// Closed reports whether the port no longer accepts values.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Taken reports whether the head has been handed out.
func (s *Stream) Taken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taken
}

// take hands out the head exactly once. closed reports whether the tail
// was already bound to end-of-stream, in which case nothing can arrive.
func (s *Stream) take() (r *StreamReader, ok, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken {
		return nil, false, s.closed
	}
	s.taken = true
	return &StreamReader{s: s}, true, s.closed
}

// close marks the stream closed. first is true only for the call that
// closed it; taken reports whether a consumer held the head at that point.
func (s *Stream) close() (first, taken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, s.taken
	}
	s.closed = true
	return true, s.taken
}

// StreamReader is the single consumer view of a Stream.
type StreamReader struct {
	s *Stream
}

// Next pops the oldest unread value without blocking.
func (r *StreamReader) Next() (pickle.Value, StreamState) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) > 0 {
		v := s.items[0]
		s.items[0] = nil
		s.items = s.items[1:]
		return v, StreamItem
	}
	if s.closed {
		return nil, StreamEnd
	}
	return nil, StreamPending
}

// Buffered returns the number of unread values.
func (r *StreamReader) Buffered() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.items)
}
