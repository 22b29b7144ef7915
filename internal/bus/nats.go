package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/carbonplane/internal/domain"
)

// defaultSubjectPrefix roots every carbonplane subject.
const defaultSubjectPrefix = "carbon"

// publishAttempts is the number of delivery tries before giving up.
// At-least-once with a short in-process retry; the broker handles the rest.
const publishAttempts = 3

// retryBackoff is the pause between publish attempts.
const retryBackoff = 100 * time.Millisecond

// NATS publishes events on a NATS connection, one subject per
// (client, event type): <prefix>.<clientId>.<eventType>.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// Connect dials the NATS server and returns a publisher. An empty prefix
// selects the default "carbon" subject root.
func Connect(url, prefix string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return NewNATS(conn, prefix), nil
}

// NewNATS wraps an existing connection, for embedding in tests.
func NewNATS(conn *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	return &NATS{conn: conn, prefix: prefix}
}

// Subject derives the per-client subject for an event.
func (n *NATS) Subject(event domain.Event) string {
	return n.prefix + "." + event.ClientID + "." + string(event.Type)
}

// Publish delivers the event at-least-once, retrying transient failures.
func (n *NATS) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	subject := n.Subject(event)

	var lastErr error

	for attempt := 0; attempt < publishAttempts; attempt++ {
		lastErr = n.conn.Publish(subject, payload)
		if lastErr == nil {
			return nil
		}

		if attempt < publishAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}

	return fmt.Errorf("publish %s after %d attempts: %w", subject, publishAttempts, lastErr)
}

// Close drains and closes the connection.
func (n *NATS) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
	}
}
