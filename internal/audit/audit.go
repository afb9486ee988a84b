package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Event records one token lifecycle or admission outcome. TokenID is the
// hashed store id of a refresh token, so raw tokens never reach a sink.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	UserID    string    `json:"user_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Success   bool      `json:"success"`
	// Error is a stable code such as "refresh_reuse", never an error string.
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sink consumes events on the dispatcher worker. Emit must not block for long:
// a slow sink stalls every event behind it.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer goroutine through a buffered
// channel. When the consumer falls behind, events are dropped and counted
// rather than stalling the dispatcher.
type ChannelSink struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewChannelSink returns a sink with room for buffer pending events.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(_ context.Context, event Event) {
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}

// Events is the receive side for the consumer.
func (s *ChannelSink) Events() <-chan Event { return s.events }

// Dropped reports how many events found the channel full.
func (s *ChannelSink) Dropped() uint64 { return s.dropped.Load() }

// JSONWriterSink writes each event as one JSON line. Lines from concurrent
// emitters never interleave.
type JSONWriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	failed atomic.Uint64
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.w == nil {
		return
	}
	line, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	_, err = s.w.Write(line)
	s.mu.Unlock()
	if err != nil {
		s.failed.Add(1)
	}
}

// Failed reports events that could not be encoded or written.
func (s *JSONWriterSink) Failed() uint64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}
