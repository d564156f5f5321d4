// Package notification delivers download lifecycle events to external
// sinks. Delivery is fire and forget: a failing sink never aborts the
// download pipeline.
package notification

import (
	"context"
	"time"
)

// EventType identifies the type of notification event.
type EventType string

const (
	EventStarted   EventType = "download_started"
	EventProgress  EventType = "download_progress"
	EventCompleted EventType = "download_completed"
	EventFailed    EventType = "download_failed"
	EventTest      EventType = "test"
)

// Event carries the fields shared by all download notifications.
type Event struct {
	Type         EventType `json:"eventType"`
	JobID        string    `json:"jobId"`
	ContentID    string    `json:"contentId,omitempty"`
	Title        string    `json:"title,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	Percent      int       `json:"percent,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier is implemented by every notification sink.
type Notifier interface {
	Name() string
	Test(ctx context.Context) error

	NotifyStarted(ctx context.Context, event Event) error
	NotifyProgress(ctx context.Context, event Event) error
	NotifyCompleted(ctx context.Context, event Event) error
	NotifyFailed(ctx context.Context, event Event) error
}
