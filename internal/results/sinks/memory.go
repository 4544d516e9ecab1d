package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/linkcheck/internal/results"
)

// MemorySink keeps every event in arrival order.
type MemorySink struct {
	mu     sync.Mutex
	events []results.Event
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Consume appends the batch.
func (s *MemorySink) Consume(_ context.Context, batch []results.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

// Events returns a copy of the collected events.
func (s *MemorySink) Events() []results.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]results.Event(nil), s.events...)
}

// Broken returns the events whose record is invalid.
func (s *MemorySink) Broken() []results.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []results.Event
	for _, evt := range s.events {
		if evt.Broken() {
			out = append(out, evt)
		}
	}
	return out
}

// Close implements results.Sink; it performs no action.
func (s *MemorySink) Close(context.Context) error {
	return nil
}
