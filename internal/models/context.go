package models

import (
	"strings"
	"time"
)

// Well-known anchor event identifiers.
const (
	EventEnrollment          = "enrollment"
	EventCreatedOn           = "created_on"
	EventActivitiesRetrieved = "activities_retrieved"
)

// ActivityFinishedEventID is the anchor event recorded when an activity finishes.
func ActivityFinishedEventID(activityGUID string) string {
	return "activity:" + activityGUID + ":finished"
}

// SurveyFinishedEventID is the anchor event recorded when a survey finishes.
func SurveyFinishedEventID(surveyGUID string) string {
	return "survey:" + surveyGUID + ":finished"
}

// Criteria is a named rule set matched against a caller's context.
type Criteria struct {
	Language         string         `json:"language,omitempty" yaml:"language,omitempty"`
	AllOfGroups      []string       `json:"allOfGroups,omitempty" yaml:"allOfGroups,omitempty"`
	NoneOfGroups     []string       `json:"noneOfGroups,omitempty" yaml:"noneOfGroups,omitempty"`
	AllOfSubstudies  []string       `json:"allOfSubstudies,omitempty" yaml:"allOfSubstudies,omitempty"`
	NoneOfSubstudies []string       `json:"noneOfSubstudies,omitempty" yaml:"noneOfSubstudies,omitempty"`
	MinAppVersions   map[string]int `json:"minAppVersions,omitempty" yaml:"minAppVersions,omitempty"`
	MaxAppVersions   map[string]int `json:"maxAppVersions,omitempty" yaml:"maxAppVersions,omitempty"`
	// Expression is an optional CEL boolean expression.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// ClientInfo describes the calling app build. AppVersion 0 means unknown.
type ClientInfo struct {
	AppName    string `json:"appName,omitempty"`
	AppVersion int    `json:"appVersion,omitempty"`
	OSName     string `json:"osName,omitempty"`
}

// CriteriaContext is the part of a request that criteria are matched against.
type CriteriaContext struct {
	DataGroups []string   `json:"dataGroups,omitempty"`
	Substudies []string   `json:"substudies,omitempty"`
	Languages  []string   `json:"languages,omitempty"`
	ClientInfo ClientInfo `json:"clientInfo"`
}

// ScheduleContext is the per-request input to scheduling. Build a fresh one
// for every call and treat it as immutable.
type ScheduleContext struct {
	AppID      string `validate:"required"`
	UserID     string
	HealthCode string `validate:"required"`

	StartsOn time.Time
	EndsOn   time.Time

	// InitialTimeZone is the zone in effect at enrollment; occurrences are
	// computed in it. TimeZone is the caller's current zone.
	InitialTimeZone *time.Location `validate:"required"`
	TimeZone        *time.Location

	Events           map[string]time.Time
	AccountCreatedOn time.Time
	Criteria         CriteriaContext

	MinimumPerSchedule int `validate:"gte=0"`
	ActionableOnly     bool

	// Now is the request's notion of the current instant.
	Now time.Time
}

// Zone is the zone occurrences are computed in.
func (c *ScheduleContext) Zone() *time.Location {
	if c.InitialTimeZone != nil {
		return c.InitialTimeZone
	}
	if c.TimeZone != nil {
		return c.TimeZone
	}
	return time.UTC
}

// AnchorTime resolves a possibly comma-separated list of event ids: the first
// present event wins, then the account-creation fallback. ok is false only
// when no fallback is known either.
func (c *ScheduleContext) AnchorTime(eventID string) (time.Time, bool) {
	if eventID == "" {
		eventID = EventEnrollment
	}
	for _, id := range strings.Split(eventID, ",") {
		id = strings.TrimSpace(id)
		if t, ok := c.Events[id]; ok && !t.IsZero() {
			return t, true
		}
	}
	if t, ok := c.Events[EventCreatedOn]; ok && !t.IsZero() {
		return t, true
	}
	if !c.AccountCreatedOn.IsZero() {
		return c.AccountCreatedOn, true
	}
	return time.Time{}, false
}
