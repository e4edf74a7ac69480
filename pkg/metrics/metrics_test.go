package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initForTest(t *testing.T) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	StartMetrics(logger, true)
	require.True(t, IsMetricsEnabled())
}

func TestRecordHTTPRequest(t *testing.T) {
	initForTest(t)

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/goals", "200"))
	RecordHTTPRequest("GET", "/api/goals", http.StatusOK, 15*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/goals", "200"))

	assert.Equal(t, before+1, after)
}

func TestRecordStorageOperation(t *testing.T) {
	initForTest(t)

	RecordStorageOperation("put", nil)
	RecordStorageOperation("put", errors.New("boom"))

	assert.GreaterOrEqual(t, testutil.ToFloat64(StorageOperations.WithLabelValues("put", "success")), float64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(StorageOperations.WithLabelValues("put", "error")), float64(1))
}

func TestObserveSTTLatencyTracksInFlight(t *testing.T) {
	initForTest(t)

	base := testutil.ToFloat64(STTJobsInFlight)
	done := ObserveSTTLatency("transcribe")
	assert.Equal(t, base+1, testutil.ToFloat64(STTJobsInFlight))
	done()
	assert.Equal(t, base, testutil.ToFloat64(STTJobsInFlight))
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	initForTest(t)
	SetMetricsEnabled(false)
	defer SetMetricsEnabled(true)

	before := testutil.ToFloat64(MilestoneMutations.WithLabelValues("toggle"))
	RecordMilestoneMutation("toggle", 50)
	assert.Equal(t, before, testutil.ToFloat64(MilestoneMutations.WithLabelValues("toggle")))

	ObserveDBQuery("get_goal")()
	WebsocketConnected()()
}

func TestRegisterHandler(t *testing.T) {
	initForTest(t)
	RecordDiarizedSpeakers(2)

	mux := http.NewServeMux()
	RegisterHandler(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pss_diarized_speakers")
}

func TestSetCircuitBreakerState(t *testing.T) {
	initForTest(t)

	SetCircuitBreakerState("stt", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("stt")))

	SetCircuitBreakerState("stt", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("stt")))
}
