package httpapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/John-Robertt/clashrules/internal/relay"
)

func TestMetrics_CountsRequestsAndErrors(t *testing.T) {
	metrics = newMetricsStore()

	// Nothing listens here once the server is closed.
	down := httptest.NewServer(http.NotFoundHandler())
	upstream, _ := url.Parse(down.URL)
	down.Close()

	h, err := NewHandler(Options{
		Relay:   relay.Options{Upstream: upstream, Loggers: ldlog.NewDisabledLoggers()},
		Loggers: ldlog.NewDisabledLoggers(),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	// 1) ok request
	{
		req := httptest.NewRequest(http.MethodGet, HealthzPath, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("healthz status=%d body=%q", rr.Code, rr.Body.String())
		}
	}

	// 2) relay error
	{
		req := httptest.NewRequest(http.MethodGet, "/rules/Proxy.yaml", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("relay status=%d body=%q", rr.Code, rr.Body.String())
		}
	}

	// 3) metrics snapshot (note: the metrics request itself isn't counted inside its own response).
	{
		req := httptest.NewRequest(http.MethodGet, MetricsPath, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("metrics status=%d body=%q", rr.Code, rr.Body.String())
		}

		body := rr.Body.String()

		if !strings.Contains(body, "rulerelay_http_requests_total 2\n") {
			t.Fatalf("metrics body missing total requests=2, got:\n%s", body)
		}
		if !strings.Contains(body, `pattern="GET /_relay/healthz",status="200"} 1`) {
			t.Fatalf("metrics body missing healthz counter, got:\n%s", body)
		}
		if !strings.Contains(body, `pattern="GET /",status="502"} 1`) {
			t.Fatalf("metrics body missing relay 502 counter, got:\n%s", body)
		}
		if !strings.Contains(body, `rulerelay_app_errors_total{stage="relay",code="UPSTREAM_UNAVAILABLE"} 1`) {
			t.Fatalf("metrics body missing app error counter, got:\n%s", body)
		}
	}
}

func TestPromLabelEscape(t *testing.T) {
	if got, want := promLabelEscape("a\"b\\c\nd"), `a\"b\\c\nd`; got != want {
		t.Fatalf("promLabelEscape = %q, want %q", got, want)
	}
}
