package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Attempt("error")
	m.Attempt("error")
	m.Attempt("completed")
	m.URLRefresh()
	m.PostActionFailed("checksum")
	m.SetQueue(2, 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.urlRefreshTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.postActionFailures.WithLabelValues("checksum")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsActive))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.jobsPending))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Attempt("error")
		m.SetQueue(1, 1)
		m.Flushed(3)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Flushed(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dlqueue_flush_updates_count 1")
}
