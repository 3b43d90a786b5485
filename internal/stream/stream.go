package stream

import (
	"context"
	"sync"
	"time"
)

// Kind labels a session lifecycle event.
type Kind string

const (
	KindLogin   Kind = "login"
	KindResume  Kind = "resume"
	KindEnded   Kind = "ended"
	KindMessage Kind = "message"
)

// Event describes a session lifecycle change or a chat append.
type Event struct {
	Kind      Kind      `json:"kind"`
	Username  string    `json:"username,omitempty"`
	Epoch     uint64    `json:"epoch"`
	Reason    string    `json:"reason,omitempty"`
	MessageID int64     `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fans events out to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out without blocking; slow subscribers miss events.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
