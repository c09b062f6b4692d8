package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler_ExposesCounters(t *testing.T) {
	Events.WithLabelValues("commit").Inc()
	Verdicts.WithLabelValues("reject").Inc()
	DomainMatches.Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	for _, want := range []string{
		`copycat_events_total{kind="commit"}`,
		`copycat_verdicts_total{verdict="reject"}`,
		"copycat_domain_matches_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHandler_UnknownPath(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/other")
	if err != nil {
		t.Fatalf("GET /other: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(Outcomes.WithLabelValues("no-session"))
	Outcomes.WithLabelValues("no-session").Inc()
	if got := testutil.ToFloat64(Outcomes.WithLabelValues("no-session")); got != before+1 {
		t.Errorf("outcomes_total{cause=no-session}: got %v, want %v", got, before+1)
	}
}
