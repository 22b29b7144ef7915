// Package bus delivers typed change-notification events to external push
// collaborators. Delivery is at-least-once per client topic; the core never
// waits for acknowledgement.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/example/carbonplane/internal/domain"
)

// Publisher is the push collaborator contract. Topics are keyed per client;
// there is no ordering guarantee across topics.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Memory is an in-process publisher that records events for tests and can
// fan out to subscriber callbacks.
type Memory struct {
	mu     sync.Mutex
	events []domain.Event
	subs   []func(domain.Event)
}

// NewMemory creates an empty in-process publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event and invokes subscribers synchronously.
func (m *Memory) Publish(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	subs := make([]func(domain.Event), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}

	return nil
}

// Subscribe registers a callback invoked on every published event.
func (m *Memory) Subscribe(fn func(domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs = append(m.subs, fn)
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Event, len(m.events))
	copy(out, m.events)

	return out
}

// EventsOfType filters recorded events by type.
func (m *Memory) EventsOfType(eventType domain.EventType) []domain.Event {
	var out []domain.Event

	for _, ev := range m.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}

	return out
}

// Logging wraps a Publisher and logs each event; publish failures are logged
// and swallowed so a slow collaborator never fails an ingest.
type Logging struct {
	Next   Publisher
	Logger *slog.Logger
}

// Publish forwards to the wrapped publisher and logs the outcome.
func (l Logging) Publish(ctx context.Context, event domain.Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	err := l.Next.Publish(ctx, event)
	if err != nil {
		logger.Warn("event publish failed",
			"type", string(event.Type),
			"client", event.ClientID,
			"error", err,
		)

		return nil
	}

	logger.Debug("event published",
		"type", string(event.Type),
		"client", event.ClientID,
	)

	return nil
}
