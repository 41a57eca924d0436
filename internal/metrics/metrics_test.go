package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserveMutation(t *testing.T) {
	m := New()
	m.ObserveMutation("update", nil)
	m.ObserveMutation("update", nil)
	m.ObserveMutation("update", errors.New("boom"))

	assert.Equal(t, 2.0, counterValue(t, m, "taskboard_task_mutations_total",
		map[string]string{"op": "update", "outcome": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, m, "taskboard_task_mutations_total",
		map[string]string{"op": "update", "outcome": "error"}))
}

func TestObserveRequestAndHandler(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "GET /tasks", http.StatusOK, 15*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)
	m.UploadFailed(2)

	assert.Equal(t, 1.0, counterValue(t, m, "taskboard_http_requests_total",
		map[string]string{"route": "unmatched", "code": "404"}))
	assert.Equal(t, 2.0, counterValue(t, m, "taskboard_image_upload_failures_total", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `taskboard_http_requests_total{code="200",method="GET",route="GET /tasks"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveMutation("create", nil)
	m.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Second)
	m.UploadFailed(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
