package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.FramesEncoded.Add(3)
	m.PeerBacklog.WithLabelValues("alice").Set(0.25)
	dropped := 7.0
	m.CounterFunc("capture_dropped_samples_total", "dropped", func() float64 { return dropped })

	if got := testutil.ToFloat64(m.FramesEncoded); got != 3 {
		t.Fatalf("expected 3 frames, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"p2p_voice_frames_encoded_total 3",
		`p2p_voice_peer_backlog_seconds{peer="alice"} 0.25`,
		"p2p_voice_capture_dropped_samples_total 7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}
