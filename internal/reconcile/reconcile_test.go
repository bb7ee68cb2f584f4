package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

var (
	v1 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	v2 = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
)

func task(guid string, day, hour int) *models.ScheduledActivity {
	local := models.NewLocalDateTime(2024, time.March, day, hour, 0, 0, 0)
	expires := local.Plus(models.MustParsePeriod("PT24H"))
	return &models.ScheduledActivity{
		GUID:             models.OccurrenceGUID(guid, local),
		HealthCode:       "hc",
		SchedulePlanGUID: "plan",
		Activity: models.Activity{
			GUID: guid,
			Task: &models.TaskReference{Identifier: guid},
		},
		LocalScheduledOn: local,
		LocalExpiresOn:   &expires,
		TimeZone:         time.UTC,
	}
}

func survey(day int, version time.Time) *models.ScheduledActivity {
	sa := task("survey-activity", day, 10)
	v := version
	sa.Activity.Task = nil
	sa.Activity.Survey = &models.SurveyReference{GUID: "mood", CreatedOn: &v}
	return sa
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func guids(list []*models.ScheduledActivity) []string {
	var out []string
	for _, sa := range list {
		out = append(out, sa.GUID)
	}
	return out
}

func TestReconcile_AllNew(t *testing.T) {
	generated := []*models.ScheduledActivity{task("b", 5, 10), task("a", 5, 10), task("a", 4, 10)}

	res := Reconcile(generated, nil, Options{View: ViewCurrent, Now: at(4, 9, 0)})

	assert.Equal(t, []string{
		"a:2024-03-04T10:00:00.000",
		"a:2024-03-05T10:00:00.000",
		"b:2024-03-05T10:00:00.000",
	}, guids(res.Activities))
	assert.Equal(t, guids(generated), guids(res.ToPersist))
}

func TestReconcile_DeduplicatesGenerated(t *testing.T) {
	first := task("a", 4, 10)
	first.SchedulePlanGUID = "plan-1"
	second := task("a", 4, 10)
	second.SchedulePlanGUID = "plan-2"

	res := Reconcile([]*models.ScheduledActivity{first, second, task("a", 5, 10)}, nil, Options{View: ViewHistory})

	require.Len(t, res.ToPersist, 2)
	assert.Equal(t, "plan-1", res.ToPersist[0].SchedulePlanGUID)
	require.Len(t, res.Activities, 2)
	assert.Same(t, first, res.Activities[0])
}

func TestReconcile_PersistedRowsWin(t *testing.T) {
	generated := []*models.ScheduledActivity{task("a", 4, 10), task("a", 5, 10)}

	persisted := task("a", 4, 10)
	persisted.StartedOn = ptr(at(4, 10, 5))
	persisted.ClientData = json.RawMessage(`{"x":1}`)

	res := Reconcile(generated, []*models.ScheduledActivity{persisted}, Options{View: ViewCurrent, Now: at(4, 11, 0)})

	require.Len(t, res.Activities, 2)
	assert.Same(t, persisted, res.Activities[0])
	assert.Equal(t, []string{"a:2024-03-05T10:00:00.000"}, guids(res.ToPersist))
}

func TestReconcile_Idempotent(t *testing.T) {
	generated := []*models.ScheduledActivity{task("a", 4, 10), task("a", 5, 10)}
	opts := Options{View: ViewCurrent, Now: at(4, 9, 0)}

	first := Reconcile(generated, nil, opts)
	second := Reconcile(generated, first.ToPersist, opts)

	assert.Empty(t, second.ToPersist)
	assert.Equal(t, guids(first.Activities), guids(second.Activities))
}

func TestReconcile_Deterministic(t *testing.T) {
	generated := []*models.ScheduledActivity{task("b", 4, 10), task("a", 4, 10), task("c", 4, 9)}
	persisted := []*models.ScheduledActivity{task("a", 4, 10)}
	opts := Options{View: ViewHistory, Now: at(4, 9, 0)}

	first := Reconcile(generated, persisted, opts)
	second := Reconcile(generated, persisted, opts)

	assert.Equal(t, guids(first.Activities), guids(second.Activities))
	assert.Equal(t, guids(first.ToPersist), guids(second.ToPersist))
	assert.Equal(t, []string{
		"c:2024-03-04T09:00:00.000",
		"a:2024-03-04T10:00:00.000",
		"b:2024-03-04T10:00:00.000",
	}, guids(first.Activities))
}

func TestReconcile_ReferenceDrift(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(p *models.ScheduledActivity)
		wantVersion   time.Time
		wantRefreshed bool
	}{
		{
			name:          "unstarted row catches up",
			mutate:        func(p *models.ScheduledActivity) {},
			wantVersion:   v2,
			wantRefreshed: true,
		},
		{
			name: "started row keeps its version",
			mutate: func(p *models.ScheduledActivity) {
				p.StartedOn = ptr(at(4, 10, 1))
			},
			wantVersion: v1,
		},
		{
			name: "client data keeps its version",
			mutate: func(p *models.ScheduledActivity) {
				p.ClientData = json.RawMessage(`{"answer":3}`)
			},
			wantVersion: v1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persisted := survey(4, v1)
			tt.mutate(persisted)

			res := Reconcile([]*models.ScheduledActivity{survey(4, v2)}, []*models.ScheduledActivity{persisted}, Options{
				View: ViewCurrent,
				Now:  at(4, 10, 30),
			})

			require.Len(t, res.Activities, 1)
			assert.True(t, res.Activities[0].Activity.Survey.CreatedOn.Equal(tt.wantVersion))
			assert.Empty(t, res.ToPersist)
			assert.True(t, persisted.Activity.Survey.CreatedOn.Equal(v1), "persisted row is never mutated")

			if !tt.wantRefreshed {
				assert.Empty(t, res.Refreshed)
				assert.Empty(t, res.Writes())
				return
			}
			require.Len(t, res.Refreshed, 1)
			assert.Same(t, res.Activities[0], res.Refreshed[0])
			assert.Equal(t, guids(res.Refreshed), guids(res.Writes()))
		})
	}
}

func TestReconcile_RefreshedRowsSettle(t *testing.T) {
	opts := Options{View: ViewCurrent, Now: at(4, 9, 0)}
	generated := []*models.ScheduledActivity{survey(4, v2), survey(5, v2)}
	persisted := []*models.ScheduledActivity{survey(4, v1)}

	first := Reconcile(generated, persisted, opts)
	assert.Equal(t, []string{"survey-activity:2024-03-05T10:00:00.000"}, guids(first.ToPersist))
	assert.Equal(t, []string{"survey-activity:2024-03-04T10:00:00.000"}, guids(first.Refreshed))
	assert.Equal(t, []string{
		"survey-activity:2024-03-05T10:00:00.000",
		"survey-activity:2024-03-04T10:00:00.000",
	}, guids(first.Writes()))

	// Once written back, the same generation has nothing left to store.
	second := Reconcile(generated, first.Writes(), opts)
	assert.Empty(t, second.ToPersist)
	assert.Empty(t, second.Refreshed)
	assert.Equal(t, guids(first.Activities), guids(second.Activities))
}

func TestReconcile_ExpirationBoundary(t *testing.T) {
	sa := task("a", 4, 10)
	expires := sa.ExpiresOn()
	require.NotNil(t, expires)

	justExpired := expires.Add(time.Second)
	generated := []*models.ScheduledActivity{sa}

	current := Reconcile(generated, nil, Options{View: ViewCurrent, Now: justExpired})
	assert.Empty(t, current.Activities)

	history := Reconcile(generated, nil, Options{View: ViewHistory, Now: justExpired})
	assert.Len(t, history.Activities, 1)

	atExpiry := Reconcile(generated, nil, Options{View: ViewCurrent, Now: *expires})
	assert.Len(t, atExpiry.Activities, 1, "still visible at the expiration instant")
}

func TestReconcile_HistoryIncludesUnmatchedPersisted(t *testing.T) {
	finishedOnce := task("once", 3, 10)
	finishedOnce.StartedOn = ptr(at(3, 10, 1))
	finishedOnce.FinishedOn = ptr(at(3, 10, 2))

	outside := task("old", 1, 10)

	persisted := []*models.ScheduledActivity{finishedOnce, outside}
	generated := []*models.ScheduledActivity{task("a", 4, 10)}
	opts := Options{
		StartsOn: at(2, 0, 0),
		EndsOn:   at(6, 0, 0),
		Now:      at(4, 9, 0),
	}

	opts.View = ViewHistory
	history := Reconcile(generated, persisted, opts)
	assert.Equal(t, []string{
		"once:2024-03-03T10:00:00.000",
		"a:2024-03-04T10:00:00.000",
	}, guids(history.Activities))
	assert.Equal(t, []string{"a:2024-03-04T10:00:00.000"}, guids(history.ToPersist))

	opts.View = ViewCurrent
	current := Reconcile(generated, persisted, opts)
	assert.Equal(t, []string{"a:2024-03-04T10:00:00.000"}, guids(current.Activities))
}

func TestVisible(t *testing.T) {
	now := at(5, 12, 0)

	tests := []struct {
		name           string
		day            int
		started        bool
		finished       bool
		actionableOnly bool
		want           bool
	}{
		{name: "available", day: 5, want: true},
		{name: "scheduled later", day: 6, want: true},
		{name: "expired unstarted", day: 3, want: false},
		{name: "expired started", day: 3, started: true, want: true},
		{name: "expired finished", day: 3, started: true, finished: true, want: false},
		{name: "finished not expired", day: 5, started: true, finished: true, want: true},
		{name: "finished actionable only", day: 5, started: true, finished: true, actionableOnly: true, want: false},
		{name: "started actionable only", day: 5, started: true, actionableOnly: true, want: true},
		{name: "finished without start", day: 5, finished: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sa := task("a", tt.day, 10)
			if tt.started {
				sa.StartedOn = ptr(sa.ScheduledOn().Add(time.Minute))
			}
			if tt.finished {
				sa.FinishedOn = ptr(sa.ScheduledOn().Add(2 * time.Minute))
			}
			assert.Equal(t, tt.want, Visible(sa, now, tt.actionableOnly))
		})
	}
}

func TestReconcile_PersistentNeverExpires(t *testing.T) {
	sa := task("p", 1, 10)
	sa.LocalExpiresOn = nil
	sa.Persistent = true

	res := Reconcile([]*models.ScheduledActivity{sa}, nil, Options{View: ViewCurrent, Now: at(30, 0, 0)})
	assert.Len(t, res.Activities, 1)
}
