// Package flowlog attaches a per-flow correlation ID to a scoped
// zerolog.Logger: one ID per accepted connection or inspected datagram,
// so every log line for a single flow can be grepped out of a busy
// proxy's output.
package flowlog

import (
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// New returns base scoped with a fresh correlation ID and the listener
// name; WithRemote adds the client's remote address. Call it once per
// accepted connection or per inspected UDP datagram.
func New(base zerolog.Logger, listener string) zerolog.Logger {
	return base.With().
		Str("flow_id", uuid.NewString()).
		Str("listener", listener).
		Logger()
}

// WithRemote attaches the client's remote address to an already-scoped
// flow logger.
func WithRemote(log zerolog.Logger, remote net.Addr) zerolog.Logger {
	if remote == nil {
		return log
	}
	return log.With().Str("remote", remote.String()).Logger()
}

// WithHostname attaches the extracted destination hostname once the
// listener's extractor has produced one.
func WithHostname(log zerolog.Logger, hostname string) zerolog.Logger {
	return log.With().Str("hostname", hostname).Logger()
}
