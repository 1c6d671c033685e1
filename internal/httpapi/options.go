package httpapi

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/John-Robertt/clashrules/internal/relay"
)

// Options controls the relay server.
type Options struct {
	// Relay configures the catch-all forwarder. Its ErrorHandler is replaced so
	// relay failures share the server's JSON error writer and metrics.
	Relay relay.Options

	// Loggers receives the access log.
	Loggers ldlog.Loggers
}
