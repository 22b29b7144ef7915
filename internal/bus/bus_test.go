package bus_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carbonplane/internal/bus"
	"github.com/example/carbonplane/internal/domain"
)

func TestMemory_PublishRecordsAndFansOut(t *testing.T) {
	t.Parallel()

	m := bus.NewMemory()

	var seen []domain.EventType

	m.Subscribe(func(ev domain.Event) {
		seen = append(seen, ev.Type)
	})

	require.NoError(t, m.Publish(context.Background(), domain.NewEvent(domain.EventManualDataSaved, "acme", nil)))
	require.NoError(t, m.Publish(context.Background(), domain.NewEvent(domain.EventCollectionOverdue, "acme", nil)))

	assert.Len(t, m.Events(), 2)
	assert.Equal(t, []domain.EventType{domain.EventManualDataSaved, domain.EventCollectionOverdue}, seen)

	overdue := m.EventsOfType(domain.EventCollectionOverdue)
	require.Len(t, overdue, 1)
	assert.Equal(t, "acme", overdue[0].ClientID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, domain.Event) error {
	return errors.New("broker down")
}

func TestLogging_SwallowsPublishFailures(t *testing.T) {
	t.Parallel()

	wrapped := bus.Logging{
		Next:   failingPublisher{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	// A slow or broken collaborator must never fail the caller.
	err := wrapped.Publish(context.Background(), domain.NewEvent(domain.EventAPIDataSaved, "acme", nil))
	assert.NoError(t, err)
}

func TestNATS_Subject(t *testing.T) {
	t.Parallel()

	ev := domain.NewEvent(domain.EventManualDataSaved, "acme", nil)

	assert.Equal(t, "carbon.acme.manual-data-saved", bus.NewNATS(nil, "").Subject(ev))
	assert.Equal(t, "co2.acme.manual-data-saved", bus.NewNATS(nil, "co2").Subject(ev))
}

func TestSavedEventFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.EventManualDataSaved, domain.SavedEventFor(domain.InputManual))
	assert.Equal(t, domain.EventAPIDataSaved, domain.SavedEventFor(domain.InputAPI))
	assert.Equal(t, domain.EventIOTDataSaved, domain.SavedEventFor(domain.InputIOT))
}
