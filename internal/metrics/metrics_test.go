package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
)

var _ pebblestore.MetricsHook = StoreHook{}

func TestObserveDispatch(t *testing.T) {
	m := New()
	m.ObserveDispatch("check", 10, 4, nil)
	m.ObserveDispatch("check", 0, 0, errors.New("down"))

	assert.Equal(t, 10.0, testutil.ToFloat64(m.dispatchRead.WithLabelValues("check")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.dispatchAppended.WithLabelValues("check")))
	assert.Equal(t, 0.4, testutil.ToFloat64(m.dispatchRatio.WithLabelValues("check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchRuns.WithLabelValues("check", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDispatch("q", 1, 1, nil)
		m.AddPublished("q", 1)
		m.AddDequeued("q", 1)
		m.AddAcked("q", 1)
		m.AddDecodeDropped("q", 1)
		m.AddReclaimed("q", 1)
		m.AddDeadLettered("q", 1)
		m.ObserveHandle("q", OutcomeOK, time.Millisecond)
		m.InFlight("q", 1)
		m.StoreHook().ObserveBatchCommit(time.Millisecond, 1, 1)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.AddAcked("add", 3)
	m.InFlight("add", 2)
	m.InFlight("add", -1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pulse_queue_acked_total{queue="add"} 3`), body)
	assert.True(t, strings.Contains(body, `pulse_worker_in_flight{queue="add"} 1`), body)
}
