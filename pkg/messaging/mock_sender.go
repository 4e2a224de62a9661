package messaging

import (
	"context"
	"sync"
)

// MockSender collects execution reports in memory for tests
type MockSender struct {
	mu      sync.Mutex
	Reports []*ExecutionReport
	FailErr error
	closed  bool
}

// NewMockSender creates an empty mock sender
func NewMockSender() *MockSender {
	return &MockSender{}
}

// SendExecutionReport implements MessageSender
func (m *MockSender) SendExecutionReport(_ context.Context, report *ExecutionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailErr != nil {
		return m.FailErr
	}
	m.Reports = append(m.Reports, report)
	return nil
}

// Close implements MessageSender
func (m *MockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Count returns the number of captured reports
func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Reports)
}

// Last returns the most recent report, nil when empty
func (m *MockSender) Last() *ExecutionReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Reports) == 0 {
		return nil
	}
	return m.Reports[len(m.Reports)-1]
}
