// Package audit records workflow state transitions. Recording is best
// effort: a failed or slow sink must never block or fail a transition.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded workflow transition.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	EventType  string                 `json:"eventType"`
	WorkflowID uuid.UUID              `json:"workflowId"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Ts         time.Time              `json:"ts"`
}

// Recorder is the audit sink. Record returns an error for observability
// only; callers log it and move on.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// MemoryRecorder keeps events in process memory. Used in dev mode and tests.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryRecorder) Close() error { return nil }

// Events returns a copy of everything recorded so far.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
