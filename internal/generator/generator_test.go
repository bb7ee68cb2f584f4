package generator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

var (
	taskActivity = models.Activity{
		GUID:  "task-guid",
		Label: "Tapping test",
		Task:  &models.TaskReference{Identifier: "tapTest"},
	}
	surveyActivity = models.Activity{
		GUID:   "survey-activity-guid",
		Label:  "Mood survey",
		Survey: &models.SurveyReference{GUID: "survey-guid", Identifier: "mood"},
	}
)

func period(s string) *models.Period {
	p := models.MustParsePeriod(s)
	return &p
}

func times(values ...string) []models.LocalTime {
	out := make([]models.LocalTime, 0, len(values))
	for _, v := range values {
		out = append(out, models.MustParseLocalTime(v))
	}
	return out
}

func guids(occurrences []*models.ScheduledActivity) []string {
	out := make([]string, 0, len(occurrences))
	for _, o := range occurrences {
		out = append(out, o.GUID)
	}
	return out
}

// newContext builds a context enrolled at 2024-03-04 09:00 in zone with a
// window of days days starting at midnight of the enrollment date.
func newContext(t *testing.T, zone *time.Location, days int) *models.ScheduleContext {
	t.Helper()
	enrolled := time.Date(2024, time.March, 4, 9, 0, 0, 0, zone)
	start := time.Date(2024, time.March, 4, 0, 0, 0, 0, zone)
	return &models.ScheduleContext{
		AppID:           "app",
		HealthCode:      "hc",
		StartsOn:        start,
		EndsOn:          start.AddDate(0, 0, days),
		InitialTimeZone: zone,
		Events: map[string]time.Time{
			models.EventEnrollment: enrolled,
			models.EventCreatedOn:  enrolled.Add(-time.Hour),
		},
		Now: enrolled,
	}
}

func TestGenerate_RecurringDailyExample(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 2)
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		EventID:      models.EventEnrollment,
		Interval:     period("P1D"),
		Times:        times("10:00"),
		Expires:      period("PT24H"),
		Activities:   []models.Activity{taskActivity},
	}

	got := g.Generate("plan-guid", schedule, sc)

	require.Equal(t, []string{
		"task-guid:2024-03-04T10:00:00.000",
		"task-guid:2024-03-05T10:00:00.000",
	}, guids(got))
	assert.Equal(t, "2024-03-05T10:00:00.000", got[0].LocalExpiresOn.String())
	assert.Equal(t, "plan-guid", got[0].SchedulePlanGUID)
	assert.Equal(t, "hc", got[0].HealthCode)
	assert.Equal(t, time.UTC, got[0].TimeZone)
	assert.False(t, got[0].Persistent)
}

func TestGenerate_RecurringWindowStartingAtEnrollmentInstant(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 2)
	sc.StartsOn = sc.Events[models.EventEnrollment]
	sc.EndsOn = sc.StartsOn.Add(48 * time.Hour)

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     period("P1D"),
		Times:        times("10:00"),
		Expires:      period("PT24H"),
		Activities:   []models.Activity{taskActivity},
	}

	assert.Equal(t, []string{
		"task-guid:2024-03-04T10:00:00.000",
		"task-guid:2024-03-05T10:00:00.000",
	}, guids(g.Generate("plan", schedule, sc)))
}

func TestGenerate_RecurringKeepsOneIntervalBeforeWindow(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 1)
	sc.StartsOn = time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)
	sc.EndsOn = sc.StartsOn.AddDate(0, 0, 1)

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     period("P1D"),
		Times:        times("10:00"),
		Expires:      period("PT24H"),
		Activities:   []models.Activity{taskActivity},
	}

	assert.Equal(t, []string{
		"task-guid:2024-03-08T10:00:00.000",
		"task-guid:2024-03-09T10:00:00.000",
	}, guids(g.Generate("plan", schedule, sc)))
}

func TestGenerate_RecurringMultipleTimesAndActivities(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 1)
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     period("P1D"),
		Times:        times("18:00", "08:00"),
		Activities:   []models.Activity{taskActivity, surveyActivity},
	}

	got := g.Generate("plan", schedule, sc)

	assert.Equal(t, []string{
		"task-guid:2024-03-04T08:00:00.000",
		"survey-activity-guid:2024-03-04T08:00:00.000",
		"task-guid:2024-03-04T18:00:00.000",
		"survey-activity-guid:2024-03-04T18:00:00.000",
	}, guids(got))
	assert.Nil(t, got[0].LocalExpiresOn)
}

func TestGenerate_RecurringSubDayIntervalDoesNotRepeat(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 2)
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     period("PT12H"),
		Times:        times("06:00"),
		Activities:   []models.Activity{taskActivity},
	}

	assert.Equal(t, []string{
		"task-guid:2024-03-04T06:00:00.000",
		"task-guid:2024-03-05T06:00:00.000",
	}, guids(g.Generate("plan", schedule, sc)))
}

func TestGenerate_RecurringIntervalFromDistantAnchor(t *testing.T) {
	daily := []string{
		"task-guid:2024-03-04T10:00:00.000",
		"task-guid:2024-03-05T10:00:00.000",
	}

	tests := []struct {
		name     string
		interval string
		enrolled time.Time
		want     []string
	}{
		{
			name:     "hourly, twenty years back",
			interval: "PT1H",
			enrolled: time.Date(2004, time.March, 4, 9, 0, 0, 0, time.UTC),
			want:     daily,
		},
		{
			name:     "every minute, three months back",
			interval: "PT1M",
			enrolled: time.Date(2023, time.December, 1, 9, 0, 0, 0, time.UTC),
			want:     daily,
		},
		{
			// Steps stay on the anchor's parity; one interval before the
			// window is kept.
			name:     "every two days, a year back",
			interval: "P2D",
			enrolled: time.Date(2023, time.March, 6, 9, 0, 0, 0, time.UTC),
			want: []string{
				"task-guid:2024-03-02T10:00:00.000",
				"task-guid:2024-03-04T10:00:00.000",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			sc := newContext(t, time.UTC, 2)
			sc.Events[models.EventEnrollment] = tt.enrolled

			schedule := &models.Schedule{
				ScheduleType: models.ScheduleTypeRecurring,
				EventID:      models.EventEnrollment,
				Interval:     period(tt.interval),
				Times:        times("10:00"),
				Activities:   []models.Activity{taskActivity},
			}

			assert.Equal(t, tt.want, guids(g.Generate("plan", schedule, sc)))
		})
	}
}

func TestGenerate_RecurringAuthoringDefects(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 3)

	tests := []struct {
		name     string
		schedule *models.Schedule
	}{
		{
			name: "no interval",
			schedule: &models.Schedule{
				ScheduleType: models.ScheduleTypeRecurring,
				Times:        times("10:00"),
				Activities:   []models.Activity{taskActivity},
			},
		},
		{
			name: "zero interval",
			schedule: &models.Schedule{
				ScheduleType: models.ScheduleTypeRecurring,
				Interval:     &models.Period{},
				Times:        times("10:00"),
				Activities:   []models.Activity{taskActivity},
			},
		},
		{
			name: "no times",
			schedule: &models.Schedule{
				ScheduleType: models.ScheduleTypeRecurring,
				Interval:     period("P1D"),
				Activities:   []models.Activity{taskActivity},
			},
		},
		{
			name: "bad cron",
			schedule: &models.Schedule{
				ScheduleType: models.ScheduleTypeRecurring,
				CronTrigger:  "not a cron",
				Activities:   []models.Activity{taskActivity},
			},
		},
		{
			name: "unknown type",
			schedule: &models.Schedule{
				ScheduleType: "sometimes",
				Activities:   []models.Activity{taskActivity},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, g.Generate("plan", tt.schedule, sc))
		})
	}
}

func TestGenerate_RecurringMinimumPerSchedule(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 1)
	sc.MinimumPerSchedule = 3

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     period("P1D"),
		Times:        times("10:00"),
		Activities:   []models.Activity{taskActivity},
	}

	assert.Equal(t, []string{
		"task-guid:2024-03-04T10:00:00.000",
		"task-guid:2024-03-05T10:00:00.000",
		"task-guid:2024-03-06T10:00:00.000",
	}, guids(g.Generate("plan", schedule, sc)))
}

func TestGenerate_RecurringCron(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 21)

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		CronTrigger:  "0 10 * * 1",
		Expires:      period("P1D"),
		Activities:   []models.Activity{taskActivity},
	}

	got := g.Generate("plan", schedule, sc)

	assert.Equal(t, []string{
		"task-guid:2024-03-04T10:00:00.000",
		"task-guid:2024-03-11T10:00:00.000",
		"task-guid:2024-03-18T10:00:00.000",
	}, guids(got))
	assert.Equal(t, "2024-03-05T10:00:00.000", got[0].LocalExpiresOn.String())
}

func TestGenerate_Once(t *testing.T) {
	g := New()

	t.Run("at anchor plus delay", func(t *testing.T) {
		sc := newContext(t, time.UTC, 3)
		schedule := &models.Schedule{
			ScheduleType: models.ScheduleTypeOnce,
			Delay:        period("P1D"),
			Expires:      period("PT2H"),
			Activities:   []models.Activity{taskActivity},
		}

		got := g.Generate("plan", schedule, sc)
		require.Len(t, got, 1)
		assert.Equal(t, "task-guid:2024-03-05T09:00:00.000", got[0].GUID)
		assert.Equal(t, "2024-03-05T11:00:00.000", got[0].LocalExpiresOn.String())
	})

	t.Run("earliest time on anchor date", func(t *testing.T) {
		sc := newContext(t, time.UTC, 3)
		schedule := &models.Schedule{
			ScheduleType: models.ScheduleTypeOnce,
			Times:        times("14:00", "07:30"),
			Activities:   []models.Activity{taskActivity},
		}

		assert.Equal(t, []string{"task-guid:2024-03-04T07:30:00.000"}, guids(g.Generate("plan", schedule, sc)))
	})

	t.Run("retained after the window moves past it", func(t *testing.T) {
		sc := newContext(t, time.UTC, 2)
		sc.StartsOn = sc.StartsOn.AddDate(0, 0, 30)
		sc.EndsOn = sc.StartsOn.AddDate(0, 0, 2)

		schedule := &models.Schedule{
			ScheduleType: models.ScheduleTypeOnce,
			Expires:      period("P1D"),
			Activities:   []models.Activity{taskActivity},
		}

		assert.Equal(t, []string{"task-guid:2024-03-04T09:00:00.000"}, guids(g.Generate("plan", schedule, sc)))
	})

	t.Run("not yet due", func(t *testing.T) {
		sc := newContext(t, time.UTC, 2)
		schedule := &models.Schedule{
			ScheduleType: models.ScheduleTypeOnce,
			Delay:        period("P30D"),
			Activities:   []models.Activity{taskActivity},
		}

		assert.Empty(t, g.Generate("plan", schedule, sc))
	})
}

func TestGenerate_PersistentIgnoresWindow(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 2)
	sc.StartsOn = sc.StartsOn.AddDate(1, 0, 0)
	sc.EndsOn = sc.StartsOn.AddDate(0, 0, 2)

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypePersistent,
		Expires:      period("PT1H"),
		Activities:   []models.Activity{taskActivity, surveyActivity},
	}

	got := g.Generate("plan", schedule, sc)

	require.Len(t, got, 2)
	for _, occurrence := range got {
		assert.True(t, occurrence.Persistent)
		assert.Nil(t, occurrence.LocalExpiresOn)
		assert.Equal(t, "2024-03-04T09:00:00.000", occurrence.LocalScheduledOn.String())
	}
}

func TestGenerate_UsesInitialZoneNotCurrentZone(t *testing.T) {
	g := New()
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	sc := newContext(t, la, 2)
	sc.TimeZone = tokyo

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     period("P1D"),
		Times:        times("10:00"),
		Activities:   []models.Activity{taskActivity},
	}

	got := g.Generate("plan", schedule, sc)

	require.Len(t, got, 2)
	assert.Equal(t, la, got[0].TimeZone)
	assert.Equal(t, "task-guid:2024-03-04T10:00:00.000", got[0].GUID)
	assert.True(t, got[0].ScheduledOn().Equal(time.Date(2024, time.March, 4, 18, 0, 0, 0, time.UTC)))
}

func TestGenerate_AnchorEvents(t *testing.T) {
	g := New()
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeOnce,
		EventID:      "survey:s1:finished,enrollment",
		Activities:   []models.Activity{taskActivity},
	}

	t.Run("first present event in list", func(t *testing.T) {
		sc := newContext(t, time.UTC, 3)
		sc.Events[models.SurveyFinishedEventID("s1")] = time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

		assert.Equal(t, []string{"task-guid:2024-03-05T12:00:00.000"}, guids(g.Generate("plan", schedule, sc)))
	})

	t.Run("falls through the list", func(t *testing.T) {
		sc := newContext(t, time.UTC, 3)

		assert.Equal(t, []string{"task-guid:2024-03-04T09:00:00.000"}, guids(g.Generate("plan", schedule, sc)))
	})

	t.Run("falls back to account creation", func(t *testing.T) {
		sc := newContext(t, time.UTC, 3)
		delete(sc.Events, models.EventEnrollment)

		assert.Equal(t, []string{"task-guid:2024-03-04T08:00:00.000"}, guids(g.Generate("plan", schedule, sc)))
	})

	t.Run("no anchor at all", func(t *testing.T) {
		sc := newContext(t, time.UTC, 3)
		sc.Events = nil

		assert.Empty(t, g.Generate("plan", schedule, sc))
	})
}

func TestGenerate_ScheduleBounds(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 5)
	startsOn := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	endsOn := time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC)

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     period("P1D"),
		Times:        times("10:00"),
		StartsOn:     &startsOn,
		EndsOn:       &endsOn,
		Activities:   []models.Activity{taskActivity},
	}

	assert.Equal(t, []string{
		"task-guid:2024-03-05T10:00:00.000",
		"task-guid:2024-03-06T10:00:00.000",
	}, guids(g.Generate("plan", schedule, sc)))
}

func TestGenerate_IsDeterministic(t *testing.T) {
	g := New()
	sc := newContext(t, time.UTC, 4)
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     period("P1D"),
		Times:        times("06:00"),
		Activities:   []models.Activity{surveyActivity},
	}

	first := g.Generate("plan", schedule, sc)
	second := g.Generate("plan", schedule, sc)
	assert.Equal(t, guids(first), guids(second))
	assert.NotSame(t, first[0].Activity.Survey, schedule.Activities[0].Survey)
}

func TestValidateCron(t *testing.T) {
	g := New()
	require.NoError(t, g.ValidateCron("0 9 * * 1-5"))
	require.NoError(t, g.ValidateCron("@daily"))
	require.Error(t, g.ValidateCron("* * *"))
}
