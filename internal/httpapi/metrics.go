package httpapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// metricsStore holds the handful of counters exposed on MetricsPath. The text
// format is Prometheus exposition; no client library is needed for three
// counter families.
type metricsStore struct {
	mu sync.Mutex

	httpRequestsTotal uint64
	httpByPattern     map[reqKey]uint64
	responseBytes     uint64

	appErrors map[errKey]uint64
}

type reqKey struct {
	Pattern string
	Status  int
}

type errKey struct {
	Stage string
	Code  string
}

func newMetricsStore() *metricsStore {
	return &metricsStore{
		httpByPattern: make(map[reqKey]uint64),
		appErrors:     make(map[errKey]uint64),
	}
}

var metrics = newMetricsStore()

func metricsIncRequest(pattern string, status int, bytes int) {
	if status == 0 {
		status = http.StatusOK
	}
	if pattern == "" {
		pattern = "(unknown)"
	}

	metrics.mu.Lock()
	metrics.httpRequestsTotal++
	metrics.httpByPattern[reqKey{Pattern: pattern, Status: status}]++
	if bytes > 0 {
		metrics.responseBytes += uint64(bytes)
	}
	metrics.mu.Unlock()
}

func metricsIncAppError(stage, code string) {
	stage = strings.TrimSpace(stage)
	code = strings.TrimSpace(code)
	if stage == "" {
		stage = "(unknown)"
	}
	if code == "" {
		code = "(unknown)"
	}

	metrics.mu.Lock()
	metrics.appErrors[errKey{Stage: stage, Code: code}]++
	metrics.mu.Unlock()
}

type sample struct {
	labels string
	n      uint64
}

// render writes the exposition text. Samples are sorted by label set so the
// output is stable between scrapes.
func (m *metricsStore) render() string {
	m.mu.Lock()
	total, bytes := m.httpRequestsTotal, m.responseBytes
	reqs := make([]sample, 0, len(m.httpByPattern))
	for k, n := range m.httpByPattern {
		reqs = append(reqs, sample{
			labels: `pattern="` + promLabelEscape(k.Pattern) + `",status="` + strconv.Itoa(k.Status) + `"`,
			n:      n,
		})
	}
	errs := make([]sample, 0, len(m.appErrors))
	for k, n := range m.appErrors {
		errs = append(errs, sample{
			labels: `stage="` + promLabelEscape(k.Stage) + `",code="` + promLabelEscape(k.Code) + `"`,
			n:      n,
		})
	}
	m.mu.Unlock()

	var b strings.Builder
	writeFamily(&b, "rulerelay_http_requests_total", "Total HTTP requests.", []sample{{n: total}})
	writeFamily(&b, "rulerelay_http_requests_by_pattern_total",
		`HTTP requests by route template and status. Relayed requests share the "/" template.`, reqs)
	writeFamily(&b, "rulerelay_http_response_bytes_total", "Response body bytes written to clients.", []sample{{n: bytes}})
	writeFamily(&b, "rulerelay_app_errors_total",
		"Errors produced by the relay itself. Upstream error statuses are passed through and not counted.", errs)
	return b.String()
}

func writeFamily(b *strings.Builder, name, help string, samples []sample) {
	sort.Slice(samples, func(i, j int) bool { return samples[i].labels < samples[j].labels })

	b.WriteString("# HELP " + name + " " + help + "\n")
	b.WriteString("# TYPE " + name + " counter\n")
	for _, s := range samples {
		b.WriteString(name)
		if s.labels != "" {
			b.WriteString("{" + s.labels + "}")
		}
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(s.n, 10))
		b.WriteByte('\n')
	}
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	WriteText(w, http.StatusOK, metrics.render())
}

func promLabelEscape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
