package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/John-Robertt/clashrules/internal/relay"
)

// Paths under ReservedPrefix are served locally and never relayed.
const (
	ReservedPrefix = "/_relay/"
	HealthzPath    = ReservedPrefix + "healthz"
	MetricsPath    = ReservedPrefix + "metrics"
)

var localMethods = map[string][]string{
	HealthzPath: {http.MethodGet, http.MethodHead},
	MetricsPath: {http.MethodGet},
}

// NewRouter returns the routes without the access log middleware.
func NewRouter(opt Options) (*mux.Router, error) {
	opt.Relay.ErrorHandler = writeRelayError
	rh, err := relay.New(opt.Relay)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	// Relayed paths are forwarded exactly as received: no cleaning, no
	// redirects for "//" or "..", no decoding of %2F.
	r.SkipClean(true)
	r.UseEncodedPath()

	r.HandleFunc(HealthzPath, handleHealthz).Methods(localMethods[HealthzPath]...)
	r.HandleFunc(MetricsPath, handleMetrics).Methods(localMethods[MetricsPath]...)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	r.PathPrefix(ReservedPrefix).HandlerFunc(handleReservedNotFound)
	r.PathPrefix("/").Handler(rh)
	return r, nil
}
