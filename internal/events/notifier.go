package events

import (
	"context"
	"time"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

// Notifier publishes scheduling events onto the bus.
type Notifier struct {
	bus *EventBus
}

func NewNotifier(bus *EventBus) *Notifier {
	return &Notifier{bus: bus}
}

// PublishRetrieved records that a participant retrieved activities at at.
func (n *Notifier) PublishRetrieved(ctx context.Context, appID, healthCode string, at time.Time) error {
	event, err := NewEvent(EventTypeActivity, appID, ActionRetrieved, RetrievedPayload{
		AppID:       appID,
		HealthCode:  healthCode,
		RetrievedOn: at.UTC(),
	})
	if err != nil {
		return err
	}
	event.Metadata.HealthCode = healthCode
	return n.bus.Publish(ctx, event)
}

// PublishFinished records that an occurrence was finished.
func (n *Notifier) PublishFinished(ctx context.Context, activity *models.ScheduledActivity) error {
	payload := FinishedPayload{
		HealthCode:   activity.HealthCode,
		GUID:         activity.GUID,
		ActivityGUID: activity.Activity.GUID,
	}
	if activity.Activity.Survey != nil {
		payload.SurveyGUID = activity.Activity.Survey.GUID
	}
	if activity.FinishedOn != nil {
		payload.FinishedOn = activity.FinishedOn.UTC()
	}

	event, err := NewEvent(EventTypeActivity, activity.SchedulePlanGUID, ActionFinished, payload)
	if err != nil {
		return err
	}
	event.Metadata.HealthCode = activity.HealthCode
	return n.bus.Publish(ctx, event)
}
