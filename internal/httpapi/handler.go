package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// NewHandler returns the production handler (router + observability middleware).
//
// Tests can still use NewRouter directly to avoid noisy logs unless needed.
func NewHandler(opt Options) (http.Handler, error) {
	r, err := NewRouter(opt)
	if err != nil {
		return nil, err
	}
	r.Use(withObservability(opt.Loggers))
	return r, nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func withObservability(loggers ldlog.Loggers) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				// Cancelled relay requests write nothing; net/http answers 200
				// to a client that is already gone.
				status = http.StatusOK
			}

			pattern := routePattern(r)
			metricsIncRequest(pattern, status, sw.bytes)

			// Never log the query string: subscription tokens live there.
			if !strings.HasPrefix(r.URL.Path, ReservedPrefix) {
				dur := time.Since(start).Round(time.Millisecond)
				loggers.Infof("http %s %s pattern=%q status=%d dur=%s bytes=%d", r.Method, r.URL.Path, pattern, status, dur, sw.bytes)
			}
		})
	}
}

// routePattern keeps metric labels low-cardinality: the route template, not the
// request path. Every relayed request shares the "/" template.
func routePattern(r *http.Request) string {
	tpl := ""
	if route := mux.CurrentRoute(r); route != nil {
		tpl, _ = route.GetPathTemplate()
	}
	if tpl == "" {
		tpl = "(unknown)"
	}
	return r.Method + " " + tpl
}
