package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveDelivered("image")
	m.ObserveDelivered("image")
	m.ObserveDelivered("video")
	m.ObserveDeliveryFailure()
	m.ObserveFetchFailures(3)
	m.ObserveFetchFailures(0)
	m.ObserveSourceError("pics")
	m.SetRetryQueueDepth(4)
	m.ObservePersistFailure()
	m.ObserveCycle(2 * time.Second)

	got := map[string]float64{
		"image":    testutil.ToFloat64(m.Delivered.WithLabelValues("image")),
		"video":    testutil.ToFloat64(m.Delivered.WithLabelValues("video")),
		"failures": testutil.ToFloat64(m.DeliveryFailures),
		"fetch":    testutil.ToFloat64(m.FetchFailures),
		"source":   testutil.ToFloat64(m.SourceErrors.WithLabelValues("pics")),
		"queue":    testutil.ToFloat64(m.RetryQueueDepth),
		"persist":  testutil.ToFloat64(m.PersistFailures),
		"cycles":   testutil.ToFloat64(m.Cycles),
	}
	want := map[string]float64{
		"image": 2, "video": 1, "failures": 1, "fetch": 3,
		"source": 1, "queue": 4, "persist": 1, "cycles": 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metric values mismatch (-want +got):\n%s", diff)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	// Should not panic
	m.ObserveDelivered("image")
	m.ObserveDeliveryFailure()
	m.ObserveFetchFailures(1)
	m.ObserveSourceError("pics")
	m.SetRetryQueueDepth(1)
	m.ObservePersistFailure()
	m.ObserveCycle(time.Second)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveDelivered("gif")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `mediarelay_delivered_total{kind="gif"} 1`) {
		t.Errorf("metrics output missing delivered counter:\n%s", body)
	}
}
