// Package generator expands a schedule definition into dated occurrences.
package generator

import (
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

// maxSteps bounds every recurrence loop so an authoring mistake can never
// spin forever.
const maxSteps = 100_000

// Generator turns schedules into occurrences. It holds no per-request state.
type Generator struct {
	parser cron.Parser
}

// New creates a generator.
func New() *Generator {
	return &Generator{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// ValidateCron checks a cron trigger expression.
func (g *Generator) ValidateCron(expr string) error {
	if _, err := g.parser.Parse(expr); err != nil {
		return fmt.Errorf("parsing cron expression: %w", err)
	}
	return nil
}

// Generate returns the occurrences of schedule for the request window in
// sc, computed in sc.Zone(). Output is ordered by scheduled time, then by the
// schedule's activity order. Malformed schedules yield no occurrences.
func (g *Generator) Generate(planGUID string, schedule *models.Schedule, sc *models.ScheduleContext) []*models.ScheduledActivity {
	if schedule == nil || len(schedule.Activities) == 0 {
		return nil
	}

	anchorTime, ok := sc.AnchorTime(schedule.EventID)
	if !ok {
		log.Debug().
			Str("schedule_plan_guid", planGUID).
			Str("event_id", schedule.EventID).
			Msg("No anchor event for schedule")
		return nil
	}

	zone := sc.Zone()
	anchor := models.LocalDateTimeOf(anchorTime.In(zone))
	if schedule.Delay != nil {
		anchor = anchor.Plus(*schedule.Delay)
	}

	w := window{
		start: models.LocalDateTimeOf(sc.StartsOn.In(zone)),
		end:   models.LocalDateTimeOf(sc.EndsOn.In(zone)),
	}

	var times []models.LocalDateTime
	switch schedule.ScheduleType {
	case models.ScheduleTypeOnce:
		times = g.once(schedule, anchor, w)
	case models.ScheduleTypePersistent:
		times = []models.LocalDateTime{anchor}
	case models.ScheduleTypeRecurring:
		if schedule.CronTrigger != "" {
			times = g.cron(schedule, anchor, zone, w, sc.MinimumPerSchedule)
		} else {
			times = g.interval(schedule, anchor, w, sc.MinimumPerSchedule)
		}
	default:
		log.Debug().
			Str("schedule_plan_guid", planGUID).
			Str("schedule_type", string(schedule.ScheduleType)).
			Msg("Unknown schedule type")
		return nil
	}

	persistent := schedule.ScheduleType == models.ScheduleTypePersistent
	out := make([]*models.ScheduledActivity, 0, len(times)*len(schedule.Activities))
	for _, local := range times {
		if !withinScheduleBounds(schedule, local.In(zone)) {
			continue
		}

		var expires *models.LocalDateTime
		if schedule.Expires != nil && !persistent {
			e := local.Plus(*schedule.Expires)
			expires = &e
		}

		for _, activity := range schedule.Activities {
			sa := &models.ScheduledActivity{
				GUID:             models.OccurrenceGUID(activity.GUID, local),
				HealthCode:       sc.HealthCode,
				SchedulePlanGUID: planGUID,
				Activity:         activity.Clone(),
				LocalScheduledOn: local,
				TimeZone:         zone,
				Persistent:       persistent,
			}
			if expires != nil {
				e := *expires
				sa.LocalExpiresOn = &e
			}
			out = append(out, sa)
		}
	}

	return out
}

type window struct {
	start models.LocalDateTime
	end   models.LocalDateTime
}

// once schedules at the anchor, or at the earliest listed time on the
// anchor's date. Only occurrences that are already due by the window end are
// emitted; expiration is left to the view filter so started one-time tasks
// survive.
func (g *Generator) once(schedule *models.Schedule, anchor models.LocalDateTime, w window) []models.LocalDateTime {
	scheduled := anchor
	if len(schedule.Times) > 0 {
		scheduled = anchor.WithTime(sortedTimes(schedule.Times)[0])
	}
	if !scheduled.Before(w.end) {
		return nil
	}
	return []models.LocalDateTime{scheduled}
}

// interval steps from the anchor date by the schedule's interval, emitting
// one occurrence per time of day. Occurrences earlier than one interval
// before the window start are skipped so boundary occurrences whose
// expiration still overlaps the window are kept.
func (g *Generator) interval(schedule *models.Schedule, anchor models.LocalDateTime, w window, minimum int) []models.LocalDateTime {
	if schedule.Interval == nil || schedule.Interval.IsZero() || len(schedule.Times) == 0 {
		log.Debug().
			Str("schedule", schedule.Label).
			Msg("Recurring schedule without interval and times, skipping")
		return nil
	}

	times := sortedTimes(schedule.Times)
	lowerBound := w.start.Minus(*schedule.Interval)

	var out []models.LocalDateTime
	date := skipAhead(anchor.StartOfDay(), *schedule.Interval, lowerBound.StartOfDay())
	for step := 0; step < maxSteps; step++ {
		if !date.Before(w.end) && len(out) >= minimum {
			break
		}
		for _, t := range times {
			scheduled := date.WithTime(t)
			if scheduled.Before(lowerBound) {
				continue
			}
			// Sub-day intervals land on the same date more than once.
			if len(out) > 0 && !scheduled.After(out[len(out)-1]) {
				continue
			}
			if !scheduled.Before(w.end) && len(out) >= minimum {
				continue
			}
			out = append(out, scheduled)
		}
		date = date.Plus(*schedule.Interval)
	}
	return out
}

// skipAhead moves date forward by whole intervals to the last step not after
// target. Steps on earlier dates emit nothing, and skipping them keeps anchors
// far in the past within maxSteps. Calendar periods are left alone since
// maxSteps of them spans millennia.
func skipAhead(date models.LocalDateTime, interval models.Period, target models.LocalDateTime) models.LocalDateTime {
	step, ok := interval.Fixed()
	if !ok || step <= 0 || !date.Before(target) {
		return date
	}
	n := target.Sub(date) / step
	return date.Add(n * step)
}

// cron walks the trigger from the anchor. The lower bound is the window start
// moved back by the expiration period.
func (g *Generator) cron(schedule *models.Schedule, anchor models.LocalDateTime, zone *time.Location, w window, minimum int) []models.LocalDateTime {
	trigger, err := g.parser.Parse(schedule.CronTrigger)
	if err != nil {
		log.Debug().
			Err(err).
			Str("cron_trigger", schedule.CronTrigger).
			Msg("Invalid cron trigger, skipping schedule")
		return nil
	}

	lowerBound := w.start
	if schedule.Expires != nil {
		lowerBound = lowerBound.Minus(*schedule.Expires)
	}

	cursor := anchor
	if cursor.Before(lowerBound) {
		cursor = lowerBound
	}
	// Next is exclusive, so step back to let the first instant fire.
	next := cursor.In(zone).Add(-time.Millisecond)
	end := w.end.In(zone)

	var out []models.LocalDateTime
	for step := 0; step < maxSteps; step++ {
		next = trigger.Next(next)
		if next.IsZero() {
			break
		}
		if !next.Before(end) && len(out) >= minimum {
			break
		}
		out = append(out, models.LocalDateTimeOf(next))
	}
	return out
}

func withinScheduleBounds(schedule *models.Schedule, scheduledOn time.Time) bool {
	if schedule.StartsOn != nil && scheduledOn.Before(*schedule.StartsOn) {
		return false
	}
	if schedule.EndsOn != nil && !scheduledOn.Before(*schedule.EndsOn) {
		return false
	}
	return true
}

func sortedTimes(times []models.LocalTime) []models.LocalTime {
	out := slices.Clone(times)
	slices.SortFunc(out, func(a, b models.LocalTime) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
	return slices.CompactFunc(out, func(a, b models.LocalTime) bool { return a == b })
}
