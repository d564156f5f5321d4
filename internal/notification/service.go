package notification

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Service fans events out to all registered notifiers. Sink failures are
// logged and swallowed.
type Service struct {
	mu        sync.RWMutex
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewService creates a notification service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logger.With().Str("component", "notification").Logger(),
	}
}

// Register adds a notifier sink.
func (s *Service) Register(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// NotifyStarted announces an accepted download.
func (s *Service) NotifyStarted(ctx context.Context, event Event) {
	event.Type = EventStarted
	s.dispatch(ctx, event, Notifier.NotifyStarted)
}

// NotifyProgress announces a coarse progress boundary.
func (s *Service) NotifyProgress(ctx context.Context, event Event) {
	event.Type = EventProgress
	s.dispatch(ctx, event, Notifier.NotifyProgress)
}

// NotifyCompleted announces a finished download.
func (s *Service) NotifyCompleted(ctx context.Context, event Event) {
	event.Type = EventCompleted
	s.dispatch(ctx, event, Notifier.NotifyCompleted)
}

// NotifyFailed announces a failed download.
func (s *Service) NotifyFailed(ctx context.Context, event Event) {
	event.Type = EventFailed
	s.dispatch(ctx, event, Notifier.NotifyFailed)
}

func (s *Service) dispatch(ctx context.Context, event Event, call func(Notifier, context.Context, Event) error) {
	s.mu.RLock()
	sinks := make([]Notifier, len(s.notifiers))
	copy(sinks, s.notifiers)
	s.mu.RUnlock()

	for _, n := range sinks {
		if err := call(n, ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("notifier", n.Name()).
				Str("eventType", string(event.Type)).Msg("notification delivery failed")
		}
	}
}
