package models

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleType is the recurrence type of a schedule.
type ScheduleType string

const (
	// ScheduleTypeOnce yields a single occurrence at the anchor event.
	ScheduleTypeOnce ScheduleType = "once"
	// ScheduleTypeRecurring repeats by interval and times of day, or by cron trigger.
	ScheduleTypeRecurring ScheduleType = "recurring"
	// ScheduleTypePersistent yields one never-expiring occurrence per activity.
	ScheduleTypePersistent ScheduleType = "persistent"
)

// StrategyType discriminates the ScheduleStrategy variant.
type StrategyType string

const (
	StrategySimple   StrategyType = "SimpleScheduleStrategy"
	StrategyCriteria StrategyType = "CriteriaScheduleStrategy"
)

var (
	ErrInvalidPlan     = errors.New("invalid schedule plan")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// SchedulePlan is a plan definition owned by an app. The engine only reads it.
type SchedulePlan struct {
	AppID      string           `json:"appId" yaml:"appId"`
	GUID       string           `json:"guid" yaml:"guid"`
	Label      string           `json:"label" yaml:"label"`
	Version    int64            `json:"version" yaml:"version"`
	ModifiedOn time.Time        `json:"modifiedOn" yaml:"modifiedOn"`
	Strategy   ScheduleStrategy `json:"strategy" yaml:"strategy"`
}

// ScheduleStrategy holds either one unconditional schedule or an ordered list
// of criteria-gated schedules.
type ScheduleStrategy struct {
	Type             StrategyType       `json:"type" yaml:"type"`
	Schedule         *Schedule          `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	ScheduleCriteria []ScheduleCriteria `json:"scheduleCriteria,omitempty" yaml:"scheduleCriteria,omitempty"`
}

// ScheduleCriteria pairs a schedule with the criteria that select it.
type ScheduleCriteria struct {
	Criteria Criteria `json:"criteria" yaml:"criteria"`
	Schedule Schedule `json:"schedule" yaml:"schedule"`
}

// Schedule describes when a set of activities occurs.
type Schedule struct {
	Label        string       `json:"label,omitempty" yaml:"label,omitempty"`
	ScheduleType ScheduleType `json:"scheduleType" yaml:"scheduleType"`
	EventID      string       `json:"eventId,omitempty" yaml:"eventId,omitempty"`
	Delay        *Period      `json:"delay,omitempty" yaml:"delay,omitempty"`
	Interval     *Period      `json:"interval,omitempty" yaml:"interval,omitempty"`
	Expires      *Period      `json:"expires,omitempty" yaml:"expires,omitempty"`
	Times        []LocalTime  `json:"times,omitempty" yaml:"times,omitempty"`
	CronTrigger  string       `json:"cronTrigger,omitempty" yaml:"cronTrigger,omitempty"`
	StartsOn     *time.Time   `json:"startsOn,omitempty" yaml:"startsOn,omitempty"`
	EndsOn       *time.Time   `json:"endsOn,omitempty" yaml:"endsOn,omitempty"`
	Activities   []Activity   `json:"activities" yaml:"activities"`
}

// Schedules returns every schedule the strategy can select, in list order.
func (s ScheduleStrategy) Schedules() []*Schedule {
	switch s.Type {
	case StrategySimple:
		if s.Schedule == nil {
			return nil
		}
		return []*Schedule{s.Schedule}
	case StrategyCriteria:
		out := make([]*Schedule, 0, len(s.ScheduleCriteria))
		for i := range s.ScheduleCriteria {
			out = append(out, &s.ScheduleCriteria[i].Schedule)
		}
		return out
	default:
		return nil
	}
}

// Validate checks the structural shape of a plan. Recurrence defects inside a
// schedule are tolerated here; the generator treats them as zero occurrences.
func (p *SchedulePlan) Validate() error {
	if p.AppID == "" {
		return fmt.Errorf("%w: appId is required", ErrInvalidPlan)
	}
	switch p.Strategy.Type {
	case StrategySimple:
		if p.Strategy.Schedule == nil {
			return fmt.Errorf("%w: simple strategy requires a schedule", ErrInvalidPlan)
		}
	case StrategyCriteria:
		if len(p.Strategy.ScheduleCriteria) == 0 {
			return fmt.Errorf("%w: criteria strategy requires at least one schedule", ErrInvalidPlan)
		}
	default:
		return fmt.Errorf("%w: unknown strategy type %q", ErrInvalidPlan, p.Strategy.Type)
	}

	for _, schedule := range p.Strategy.Schedules() {
		if err := schedule.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
		}
	}
	return nil
}

// Validate checks the schedule's type and activities.
func (s *Schedule) Validate() error {
	switch s.ScheduleType {
	case ScheduleTypeOnce, ScheduleTypeRecurring, ScheduleTypePersistent:
	default:
		return fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSchedule, s.ScheduleType)
	}
	if len(s.Activities) == 0 {
		return fmt.Errorf("%w: at least one activity is required", ErrInvalidSchedule)
	}
	for i := range s.Activities {
		if err := s.Activities[i].Validate(); err != nil {
			return fmt.Errorf("%w: activities[%d]: %w", ErrInvalidSchedule, i, err)
		}
	}
	return nil
}

// IsRecurringByInterval reports whether a RECURRING schedule uses interval+times.
func (s *Schedule) IsRecurringByInterval() bool {
	return s.ScheduleType == ScheduleTypeRecurring && s.CronTrigger == ""
}
