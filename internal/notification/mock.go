package notification

import (
	"context"
	"sync"
)

// MockNotifier records delivered events for tests.
type MockNotifier struct {
	mu     sync.Mutex
	Events []Event
	Err    error
}

func (m *MockNotifier) Name() string { return "mock" }

func (m *MockNotifier) Test(ctx context.Context) error { return m.Err }

func (m *MockNotifier) NotifyStarted(ctx context.Context, event Event) error {
	return m.record(event)
}

func (m *MockNotifier) NotifyProgress(ctx context.Context, event Event) error {
	return m.record(event)
}

func (m *MockNotifier) NotifyCompleted(ctx context.Context, event Event) error {
	return m.record(event)
}

func (m *MockNotifier) NotifyFailed(ctx context.Context, event Event) error {
	return m.record(event)
}

// Recorded returns a copy of the delivered events.
func (m *MockNotifier) Recorded() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.Events))
	copy(out, m.Events)
	return out
}

func (m *MockNotifier) record(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return m.Err
}
