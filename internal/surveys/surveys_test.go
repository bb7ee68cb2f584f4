package surveys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/config"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		WALMode:         true,
		ForeignKeys:     true,
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		CacheSize:       -2000,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var (
	v1 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	v2 = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	v3 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
)

func TestStore_MostRecentPublishedVersion(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	_, err := store.MostRecentPublishedVersion(ctx, "app", "mood")
	assert.ErrorIs(t, err, ErrSurveyNotFound)

	require.NoError(t, store.Create(ctx, &Survey{AppID: "app", GUID: "mood", CreatedOn: v1, Identifier: "mood", Published: true}))
	require.NoError(t, store.Create(ctx, &Survey{AppID: "app", GUID: "mood", CreatedOn: v2, Identifier: "mood", Published: true}))
	require.NoError(t, store.Create(ctx, &Survey{AppID: "app", GUID: "mood", CreatedOn: v3, Identifier: "mood"}))

	got, err := store.MostRecentPublishedVersion(ctx, "app", "mood")
	require.NoError(t, err)
	assert.True(t, got.CreatedOn.Equal(v2))
	assert.True(t, got.Published)

	require.NoError(t, store.Publish(ctx, "app", "mood", v3))
	got, err = store.MostRecentPublishedVersion(ctx, "app", "mood")
	require.NoError(t, err)
	assert.True(t, got.CreatedOn.Equal(v3))

	_, err = store.MostRecentPublishedVersion(ctx, "other-app", "mood")
	assert.ErrorIs(t, err, ErrSurveyNotFound)
}

func TestStore_CreateAndList(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Survey{AppID: "app", GUID: "mood", CreatedOn: v1}))
	require.NoError(t, store.Create(ctx, &Survey{AppID: "app", GUID: "mood", CreatedOn: v2}))

	err := store.Create(ctx, &Survey{AppID: "app", GUID: "mood", CreatedOn: v1})
	assert.ErrorIs(t, err, ErrSurveyExists)

	assert.Error(t, store.Create(ctx, &Survey{GUID: "mood"}))

	versions, err := store.ListVersions(ctx, "app", "mood")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].CreatedOn.Equal(v2))
	assert.True(t, versions[1].CreatedOn.Equal(v1))

	assert.ErrorIs(t, store.Publish(ctx, "app", "mood", v3), ErrSurveyNotFound)
}

// countingLookup serves fixed versions and counts calls per survey.
type countingLookup struct {
	mu       sync.Mutex
	versions map[string]time.Time
	calls    map[string]int
	err      error
}

func newCountingLookup(versions map[string]time.Time) *countingLookup {
	return &countingLookup{versions: versions, calls: make(map[string]int)}
}

func (l *countingLookup) MostRecentPublishedVersion(ctx context.Context, appID, surveyGUID string) (*Survey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[surveyGUID]++
	if l.err != nil {
		return nil, l.err
	}
	v, ok := l.versions[surveyGUID]
	if !ok {
		return nil, ErrSurveyNotFound
	}
	return &Survey{AppID: appID, GUID: surveyGUID, CreatedOn: v, Identifier: surveyGUID + "-id", Published: true}, nil
}

func surveyOccurrence(guid, surveyGUID string, pinned *time.Time) *models.ScheduledActivity {
	return &models.ScheduledActivity{
		GUID: guid,
		Activity: models.Activity{
			GUID:   "activity-" + surveyGUID,
			Survey: &models.SurveyReference{GUID: surveyGUID, CreatedOn: pinned},
		},
	}
}

func TestResolver_ResolveAll(t *testing.T) {
	lookup := newCountingLookup(map[string]time.Time{"mood": v2, "sleep": v3})
	r := NewResolver(lookup, 2)

	pinned := v1
	occurrences := []*models.ScheduledActivity{
		surveyOccurrence("a", "mood", nil),
		surveyOccurrence("b", "mood", nil),
		surveyOccurrence("c", "sleep", nil),
		surveyOccurrence("d", "pinned", &pinned),
		{GUID: "e", Activity: models.Activity{GUID: "task", Task: &models.TaskReference{Identifier: "tap"}}},
	}

	require.NoError(t, r.ResolveAll(context.Background(), "app", occurrences))

	assert.True(t, occurrences[0].Activity.Survey.CreatedOn.Equal(v2))
	assert.True(t, occurrences[1].Activity.Survey.CreatedOn.Equal(v2))
	assert.True(t, occurrences[2].Activity.Survey.CreatedOn.Equal(v3))
	assert.True(t, occurrences[3].Activity.Survey.CreatedOn.Equal(v1))
	assert.Equal(t, "mood-id", occurrences[0].Activity.Survey.Identifier)
	assert.Nil(t, occurrences[4].Activity.Survey)

	assert.Equal(t, 1, lookup.calls["mood"])
	assert.Equal(t, 1, lookup.calls["sleep"])
	assert.Zero(t, lookup.calls["pinned"])
}

func TestResolver_ResolveAllFailure(t *testing.T) {
	lookup := newCountingLookup(map[string]time.Time{"mood": v2})
	r := NewResolver(lookup, 0)

	occurrences := []*models.ScheduledActivity{
		surveyOccurrence("a", "mood", nil),
		surveyOccurrence("b", "missing", nil),
	}

	err := r.ResolveAll(context.Background(), "app", occurrences)
	assert.ErrorIs(t, err, ErrSurveyNotFound)
	assert.Nil(t, occurrences[0].Activity.Survey.CreatedOn)
}

func TestResolver_Resolve(t *testing.T) {
	lookup := newCountingLookup(map[string]time.Time{"mood": v2})
	r := NewResolver(lookup, 0)
	ctx := context.Background()

	original := surveyOccurrence("a", "mood", nil).Activity
	got, err := r.Resolve(ctx, "app", original)
	require.NoError(t, err)
	require.NotNil(t, got.Survey.CreatedOn)
	assert.True(t, got.Survey.CreatedOn.Equal(v2))
	assert.Nil(t, original.Survey.CreatedOn)

	task := models.Activity{GUID: "task", Task: &models.TaskReference{Identifier: "tap"}}
	got, err = r.Resolve(ctx, "app", task)
	require.NoError(t, err)
	assert.True(t, got.Equal(task))

	lookup.err = errors.New("lookup down")
	_, err = r.Resolve(ctx, "app", original)
	assert.ErrorContains(t, err, "lookup down")
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("BRIDGESCHED_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BRIDGESCHED_TEST_REDIS_ADDR not set")
	}

	client, err := NewRedisClient(context.Background(), &config.CacheConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCachedLookup_ReadThrough(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	lookup := newCountingLookup(map[string]time.Time{"mood": v2})
	cached := NewCachedLookup(lookup, client, time.Minute)
	appID := "app-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { cached.Invalidate(context.Background(), appID, "mood") })

	for i := 0; i < 3; i++ {
		got, err := cached.MostRecentPublishedVersion(ctx, appID, "mood")
		require.NoError(t, err)
		assert.True(t, got.CreatedOn.Equal(v2))
	}
	assert.Equal(t, 1, lookup.calls["mood"])

	require.NoError(t, cached.Invalidate(ctx, appID, "mood"))
	_, err := cached.MostRecentPublishedVersion(ctx, appID, "mood")
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.calls["mood"])
}

func TestCachedLookup_FallsThroughWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	lookup := newCountingLookup(map[string]time.Time{"mood": v2})
	cached := NewCachedLookup(lookup, client, time.Minute)

	got, err := cached.MostRecentPublishedVersion(context.Background(), "app", "mood")
	require.NoError(t, err)
	assert.True(t, got.CreatedOn.Equal(v2))
	assert.Equal(t, 1, lookup.calls["mood"])

	_, err = cached.MostRecentPublishedVersion(context.Background(), "app", "missing")
	assert.ErrorIs(t, err, ErrSurveyNotFound)
}

func TestCachedLookup_Key(t *testing.T) {
	cached := NewCachedLookup(nil, nil, 0)
	assert.Equal(t, "bridgesched:survey:published:app:mood", cached.Key("app", "mood"))
	assert.Equal(t, 5*time.Minute, cached.ttl)
}
