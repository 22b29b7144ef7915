package domain

import "time"

// EventType names a change-notification bus event.
type EventType string

const (
	EventManualDataSaved       EventType = "manual-data-saved"
	EventAPIDataSaved          EventType = "api-data-saved"
	EventIOTDataSaved          EventType = "iot-data-saved"
	EventCSVDataUploaded       EventType = "csv-data-uploaded"
	EventManualDataEdited      EventType = "manual-data-edited"
	EventManualDataDeleted     EventType = "manual-data-deleted"
	EventMonthlySummaryCreated EventType = "monthly-summary-created"
	EventAllocationUpdated     EventType = "allocation-updated"
	EventReductionEntrySaved   EventType = "reduction-entry-saved"
	EventCollectionOverdue     EventType = "collection-overdue"
)

// SavedEventFor maps an input type to its data-saved event type.
func SavedEventFor(input InputType) EventType {
	switch input {
	case InputAPI:
		return EventAPIDataSaved
	case InputIOT:
		return EventIOTDataSaved
	default:
		return EventManualDataSaved
	}
}

// Event is one typed notification delivered at-least-once to external push
// collaborators. The core requires no acknowledgement.
type Event struct {
	Type      EventType      `json:"type"`
	ClientID  string         `json:"clientId"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with the current instant.
func NewEvent(eventType EventType, clientID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		ClientID:  clientID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
