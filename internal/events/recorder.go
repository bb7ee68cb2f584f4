package events

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

// Recorder turns bus events into anchor events: the finish time of each
// activity and survey, and the first time a participant retrieved activities.
type Recorder struct {
	store *ActivityEventStore
}

func NewRecorder(store *ActivityEventStore) *Recorder {
	return &Recorder{store: store}
}

// Register subscribes the recorder to bus.
func (r *Recorder) Register(bus *EventBus) {
	bus.Subscribe(EventTypeActivity, "*", ActionFinished, r.handleFinished)
	bus.Subscribe(EventTypeActivity, "*", ActionRetrieved, r.handleRetrieved)
}

func (r *Recorder) handleFinished(ctx context.Context, event *Event) error {
	var p FinishedPayload
	if err := event.Decode(&p); err != nil {
		return err
	}

	if err := r.store.Record(ctx, p.HealthCode, models.ActivityFinishedEventID(p.ActivityGUID), p.FinishedOn); err != nil {
		return err
	}
	if p.SurveyGUID != "" {
		if err := r.store.Record(ctx, p.HealthCode, models.SurveyFinishedEventID(p.SurveyGUID), p.FinishedOn); err != nil {
			return err
		}
	}

	log.Debug().
		Str("guid", p.GUID).
		Time("finished_on", p.FinishedOn).
		Msg("Recorded activity finished event")
	return nil
}

func (r *Recorder) handleRetrieved(ctx context.Context, event *Event) error {
	var p RetrievedPayload
	if err := event.Decode(&p); err != nil {
		return err
	}
	return r.store.RecordFirst(ctx, p.HealthCode, models.EventActivitiesRetrieved, p.RetrievedOn)
}
