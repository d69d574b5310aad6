package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smazurov/taskworker/internal/metrics"
)

func TestHTTPHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.TaskSubmitted()
	m.TaskFinished(metrics.OutcomeExited, 50*time.Millisecond)

	handler := HTTPHandler(reg)
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	for _, name := range []string{
		"taskworker_queue_submitted_total 1",
		`taskworker_task_finished_total{outcome="exited"} 1`,
		"taskworker_task_duration_seconds_count 1",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %q in response", name)
		}
	}
}
