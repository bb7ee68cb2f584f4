package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// EventTypeActivity is published for changes to a participant's occurrences.
	EventTypeActivity EventType = "activity"
)

// Event actions.
const (
	ActionRetrieved = "retrieved"
	ActionFinished  = "finished"
)

// Event statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Event represents an event in the event bus queue.
type Event struct {
	ID          string          // Unique event ID
	Type        EventType       // Event type
	Source      string          // App ID or schedule plan GUID
	Action      string          // Specific action (retrieved, finished)
	Payload     json.RawMessage // JSON payload, see Decode
	Metadata    EventMetadata   // Additional metadata
	CreatedAt   time.Time       // When event was created
	ProcessedAt *time.Time      // When event was processed
	Status      string          // Event status (pending, processing, completed, failed)
}

// EventMetadata contains additional context for an event.
type EventMetadata struct {
	HealthCode string         `json:"healthCode,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// NewEvent builds a pending event with payload encoded as JSON.
func NewEvent(eventType EventType, source, action string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return &Event{
		Type:    eventType,
		Source:  source,
		Action:  action,
		Payload: raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s:%s payload: %w", e.Type, e.Action, err)
	}
	return nil
}

// RetrievedPayload is carried by activity:*:retrieved events.
type RetrievedPayload struct {
	AppID       string    `json:"appId"`
	HealthCode  string    `json:"healthCode"`
	RetrievedOn time.Time `json:"retrievedOn"`
}

// FinishedPayload is carried by activity:*:finished events.
type FinishedPayload struct {
	HealthCode   string    `json:"healthCode"`
	GUID         string    `json:"guid"`
	ActivityGUID string    `json:"activityGuid"`
	SurveyGUID   string    `json:"surveyGuid,omitempty"`
	FinishedOn   time.Time `json:"finishedOn"`
}
