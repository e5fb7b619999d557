package nats

import (
	"context"
	"errors"
	"sync"
)

var errMockClosed = errors.New("publisher closed")

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	attempts     []*AttemptEvent
	paid         []*PaidEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		attempts: make([]*AttemptEvent, 0),
		paid:     make([]*PaidEvent, 0),
	}
}

// PublishAttempt records the event and returns any configured error.
func (m *MockPublisher) PublishAttempt(ctx context.Context, event *AttemptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errMockClosed
	}
	if m.publishError != nil {
		return m.publishError
	}

	m.attempts = append(m.attempts, event)
	return nil
}

// PublishPaid records the event and returns any configured error.
func (m *MockPublisher) PublishPaid(ctx context.Context, event *PaidEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errMockClosed
	}
	if m.publishError != nil {
		return m.publishError
	}

	m.paid = append(m.paid, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// AttemptEvents returns a copy of all published attempt events.
func (m *MockPublisher) AttemptEvents() []*AttemptEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*AttemptEvent, len(m.attempts))
	copy(events, m.attempts)
	return events
}

// PaidEvents returns a copy of all published paid events.
func (m *MockPublisher) PaidEvents() []*PaidEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*PaidEvent, len(m.paid))
	copy(events, m.paid)
	return events
}

// SetPublishError configures the mock to return err from every publish call.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = make([]*AttemptEvent, 0)
	m.paid = make([]*PaidEvent, 0)
	m.publishError = nil
	m.closed = false
}
