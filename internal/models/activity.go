package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ActivityType is derived from which reference an activity carries.
type ActivityType string

const (
	ActivityTypeTask   ActivityType = "task"
	ActivityTypeSurvey ActivityType = "survey"
)

var ErrInvalidActivity = errors.New("invalid activity")

// Activity is a label plus exactly one reference to a task or a survey.
type Activity struct {
	GUID        string           `json:"guid" yaml:"guid"`
	Label       string           `json:"label" yaml:"label"`
	LabelDetail string           `json:"labelDetail,omitempty" yaml:"labelDetail,omitempty"`
	Task        *TaskReference   `json:"task,omitempty" yaml:"task,omitempty"`
	Survey      *SurveyReference `json:"survey,omitempty" yaml:"survey,omitempty"`
}

// TaskReference points at an opaque task identifier.
type TaskReference struct {
	Identifier string `json:"identifier" yaml:"identifier"`
}

// SurveyReference points at a survey. A nil CreatedOn means "latest published".
type SurveyReference struct {
	Identifier string     `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	GUID       string     `json:"guid" yaml:"guid"`
	CreatedOn  *time.Time `json:"createdOn,omitempty" yaml:"createdOn,omitempty"`
}

// Type returns the activity type.
func (a Activity) Type() ActivityType {
	if a.Survey != nil {
		return ActivityTypeSurvey
	}
	return ActivityTypeTask
}

// Validate enforces the guid and the single-reference rule.
func (a Activity) Validate() error {
	if a.GUID == "" {
		return fmt.Errorf("%w: guid is required", ErrInvalidActivity)
	}
	if (a.Task == nil) == (a.Survey == nil) {
		return fmt.Errorf("%w: exactly one of task or survey is required", ErrInvalidActivity)
	}
	if a.Task != nil && a.Task.Identifier == "" {
		return fmt.Errorf("%w: task identifier is required", ErrInvalidActivity)
	}
	if a.Survey != nil && a.Survey.GUID == "" {
		return fmt.Errorf("%w: survey guid is required", ErrInvalidActivity)
	}
	return nil
}

// Equal compares two activity snapshots, including resolved survey versions.
func (a Activity) Equal(b Activity) bool {
	if a.GUID != b.GUID || a.Label != b.Label || a.LabelDetail != b.LabelDetail {
		return false
	}
	if (a.Task == nil) != (b.Task == nil) || (a.Survey == nil) != (b.Survey == nil) {
		return false
	}
	if a.Task != nil && *a.Task != *b.Task {
		return false
	}
	if a.Survey != nil {
		if a.Survey.GUID != b.Survey.GUID || a.Survey.Identifier != b.Survey.Identifier {
			return false
		}
		return timePtrEqual(a.Survey.CreatedOn, b.Survey.CreatedOn)
	}
	return true
}

// Clone returns a copy that shares no pointers with a.
func (a Activity) Clone() Activity {
	out := a
	if a.Task != nil {
		task := *a.Task
		out.Task = &task
	}
	if a.Survey != nil {
		survey := *a.Survey
		if a.Survey.CreatedOn != nil {
			createdOn := *a.Survey.CreatedOn
			survey.CreatedOn = &createdOn
		}
		out.Survey = &survey
	}
	return out
}

// Status is the lifecycle state derived from an occurrence's fields.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusAvailable Status = "available"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusExpired   Status = "expired"
	StatusDeleted   Status = "deleted"
)

// ScheduledActivity is one occurrence of an activity for one participant.
type ScheduledActivity struct {
	GUID             string          `json:"guid"`
	HealthCode       string          `json:"-"`
	SchedulePlanGUID string          `json:"schedulePlanGuid,omitempty"`
	Activity         Activity        `json:"activity"`
	LocalScheduledOn LocalDateTime   `json:"localScheduledOn"`
	LocalExpiresOn   *LocalDateTime  `json:"localExpiresOn,omitempty"`
	TimeZone         *time.Location  `json:"-"`
	StartedOn        *time.Time      `json:"startedOn,omitempty"`
	FinishedOn       *time.Time      `json:"finishedOn,omitempty"`
	ClientData       json.RawMessage `json:"clientData,omitempty"`
	Persistent       bool            `json:"persistent"`
}

// OccurrenceGUID derives the deterministic occurrence key.
func OccurrenceGUID(activityGUID string, scheduledOn LocalDateTime) string {
	return activityGUID + ":" + scheduledOn.String()
}

// Location returns the occurrence's zone, defaulting to UTC.
func (sa *ScheduledActivity) Location() *time.Location {
	if sa.TimeZone == nil {
		return time.UTC
	}
	return sa.TimeZone
}

// ScheduledOn is the scheduled instant.
func (sa *ScheduledActivity) ScheduledOn() time.Time {
	return sa.LocalScheduledOn.In(sa.Location())
}

// ExpiresOn is the expiration instant, or nil for never.
func (sa *ScheduledActivity) ExpiresOn() *time.Time {
	if sa.LocalExpiresOn == nil {
		return nil
	}
	t := sa.LocalExpiresOn.In(sa.Location())
	return &t
}

// IsExpired reports whether now is past the expiration instant.
func (sa *ScheduledActivity) IsExpired(now time.Time) bool {
	expiresOn := sa.ExpiresOn()
	return expiresOn != nil && now.After(*expiresOn)
}

func (sa *ScheduledActivity) IsStarted() bool  { return sa.StartedOn != nil }
func (sa *ScheduledActivity) IsFinished() bool { return sa.FinishedOn != nil }

// Status derives the lifecycle state at now.
func (sa *ScheduledActivity) Status(now time.Time) Status {
	switch {
	case sa.FinishedOn != nil && sa.StartedOn == nil:
		return StatusDeleted
	case sa.FinishedOn != nil:
		return StatusFinished
	case sa.IsExpired(now):
		return StatusExpired
	case sa.StartedOn != nil:
		return StatusStarted
	case now.Before(sa.ScheduledOn()):
		return StatusScheduled
	default:
		return StatusAvailable
	}
}

// Clone returns a deep copy.
func (sa *ScheduledActivity) Clone() *ScheduledActivity {
	out := *sa
	out.Activity = sa.Activity.Clone()
	if sa.LocalExpiresOn != nil {
		expires := *sa.LocalExpiresOn
		out.LocalExpiresOn = &expires
	}
	if sa.StartedOn != nil {
		started := *sa.StartedOn
		out.StartedOn = &started
	}
	if sa.FinishedOn != nil {
		finished := *sa.FinishedOn
		out.FinishedOn = &finished
	}
	if sa.ClientData != nil {
		out.ClientData = append(json.RawMessage(nil), sa.ClientData...)
	}
	return &out
}

// HasClientData reports whether a non-null payload is attached.
func (sa *ScheduledActivity) HasClientData() bool {
	trimmed := bytes.TrimSpace(sa.ClientData)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// MarshalJSON adds the zone name and the absolute scheduled instant.
func (sa *ScheduledActivity) MarshalJSON() ([]byte, error) {
	type alias ScheduledActivity
	return json.Marshal(&struct {
		*alias
		TimeZone    string     `json:"timeZone"`
		ScheduledOn time.Time  `json:"scheduledOn"`
		ExpiresOn   *time.Time `json:"expiresOn,omitempty"`
	}{
		alias:       (*alias)(sa),
		TimeZone:    sa.Location().String(),
		ScheduledOn: sa.ScheduledOn(),
		ExpiresOn:   sa.ExpiresOn(),
	})
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
