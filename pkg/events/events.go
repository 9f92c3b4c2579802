// Package events carries audit and notification events out of the
// placement core.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeRequestAssigned  = "request.assigned"
	TypeRequestUnmatched = "request.unmatched"
	TypeRequestCompleted = "request.completed"
	TypeRequestResolved  = "request.resolved"
	TypeRequestCancelled = "request.cancelled"

	TypeShelterOverloaded = "shelter.overloaded"

	TypeRebalancePlanned  = "rebalance.planned"
	TypeRebalanceTransfer = "rebalance.transfer"
	TypeRebalanceFailed   = "rebalance.failed"
)

// Event is one audit record
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	ShelterID string         `json:"shelter_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New stamps an event with an id and the current time
func New(eventType, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Alert reports whether operators should be notified about e
func (e Event) Alert() bool {
	switch e.Type {
	case TypeRequestUnmatched, TypeShelterOverloaded, TypeRebalanceFailed:
		return true
	}
	return false
}

// Sink receives events. Emit must not block on slow consumers for long;
// the core logs and ignores sink errors.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Nop discards events
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// Multi fans an event out to several sinks
type Multi []Sink

// Emit delivers to every sink and joins their errors
func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is a Sink that also keeps the events in memory. Tests use it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
