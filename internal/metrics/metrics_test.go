package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordScheduleRequest(t *testing.T) {
	before := testutil.ToFloat64(scheduleRequestsTotal.WithLabelValues("current", "ok"))

	RecordScheduleRequest("current", "ok", 15*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(scheduleRequestsTotal.WithLabelValues("current", "ok")))
}

func TestRecordOccurrences(t *testing.T) {
	generated := testutil.ToFloat64(occurrencesGenerated.WithLabelValues("history"))
	persisted := testutil.ToFloat64(occurrencesPersisted.WithLabelValues("history"))

	RecordOccurrences("history", 4, 1)

	assert.Equal(t, generated+4, testutil.ToFloat64(occurrencesGenerated.WithLabelValues("history")))
	assert.Equal(t, persisted+1, testutil.ToFloat64(occurrencesPersisted.WithLabelValues("history")))
}

func TestHandler(t *testing.T) {
	RecordSurveyCache(CacheHit)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bridgesched_survey_cache_total"))
}
