package temporal

import (
	"context"
	"fmt"
	"sync"
)

// MockScheduler is a mock implementation of PaymentScheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	started   map[string]ConfirmPaymentInput // map[workflowID]input
	statuses  map[string]*PaymentStatus
	startErr  error
	statusErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		started:  make(map[string]ConfirmPaymentInput),
		statuses: make(map[string]*PaymentStatus),
	}
}

// StartPaymentConfirmation records the started workflow.
func (m *MockScheduler) StartPaymentConfirmation(ctx context.Context, input ConfirmPaymentInput) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := PaymentWorkflowID(input.BlinkID)
	m.started[id] = input
	if _, ok := m.statuses[id]; !ok {
		m.statuses[id] = &PaymentStatus{WorkflowID: id, Status: "Running"}
	}
	return id, nil
}

// GetPaymentStatus returns the status configured with SetStatus, or Running
// for started workflows.
func (m *MockScheduler) GetPaymentStatus(ctx context.Context, workflowID string) (*PaymentStatus, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", workflowID)
	}
	return status, nil
}

// SetStartError makes StartPaymentConfirmation return an error.
func (m *MockScheduler) SetStartError(err error) {
	m.startErr = err
}

// SetStatusError makes GetPaymentStatus return an error.
func (m *MockScheduler) SetStatusError(err error) {
	m.statusErr = err
}

// SetStatus overrides the status reported for a workflow.
func (m *MockScheduler) SetStatus(status *PaymentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.WorkflowID] = status
}

// Started returns the input a workflow was started with.
func (m *MockScheduler) Started(workflowID string) (ConfirmPaymentInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	input, ok := m.started[workflowID]
	return input, ok
}

// StartedCount returns the number of distinct workflows started.
func (m *MockScheduler) StartedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}

// Reset clears all workflows and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = make(map[string]ConfirmPaymentInput)
	m.statuses = make(map[string]*PaymentStatus)
	m.startErr = nil
	m.statusErr = nil
}
