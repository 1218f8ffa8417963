package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	t.Run("nil receiver is a no-op", func(t *testing.T) {
		var m *Metrics
		m.JobSubmitted("library-sync")
		m.JobFinished("library-sync", "completed", time.Second)
		m.ObserveLimiterWait("musicbrainz", time.Second)
		m.WebhookEvent("grabbed", "applied")
		m.MatchOutcome("matched", true)
	})

	t.Run("counters", func(t *testing.T) {
		m := New()
		m.JobSubmitted("library-sync")
		m.JobSubmitted("library-sync")
		m.JobRejected("library-sync")
		m.WebhookEvent("imported", "applied")

		if got := testutil.ToFloat64(m.JobsSubmitted.WithLabelValues("library-sync")); got != 2 {
			t.Errorf("expected 2 submitted, got %v", got)
		}
		if got := testutil.ToFloat64(m.JobsRejected.WithLabelValues("library-sync")); got != 1 {
			t.Errorf("expected 1 rejected, got %v", got)
		}
		if got := testutil.ToFloat64(m.WebhookEvents.WithLabelValues("imported", "applied")); got != 1 {
			t.Errorf("expected 1 webhook event, got %v", got)
		}
	})

	t.Run("independent registries", func(t *testing.T) {
		a, b := New(), New()
		a.WorkerBusy(1)
		if got := testutil.ToFloat64(b.WorkersBusy); got != 0 {
			t.Errorf("registries should not share state, got %v", got)
		}
	})

	t.Run("Handler", func(t *testing.T) {
		m := New()
		m.ServiceCall("lidarr", 200)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		body, _ := io.ReadAll(rec.Body)
		if !strings.Contains(string(body), `crate_service_calls_total{code="200",service="lidarr"} 1`) {
			t.Errorf("expected service call counter in output:\n%s", body)
		}
	})
}
