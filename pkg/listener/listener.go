// Package listener implements the three front-edge listeners — HTTPS
// (TCP:443), HTTP (TCP:80), and QUIC (UDP:443) — that share one
// "extract hostname → check acl/whitelist → reach egress → splice"
// shape but diverge in how the hostname is extracted from the client's
// first bytes. Egress always routes through a SOCKS5 upstream rather
// than a direct TCP dial.
package listener

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/snirelay/snirelay/pkg/acl"
	"github.com/snirelay/snirelay/pkg/pool"
	"github.com/snirelay/snirelay/pkg/socksclient"
	"github.com/snirelay/snirelay/pkg/whitelist"
)

// peekTimeout bounds how long a listener waits for enough bytes to
// run its extractor before giving up on a flow.
const peekTimeout = 5 * time.Second

// peekBufferSize is the fixed-size prefix read from each TCP flow
// before extraction; both the TLS SNI walk and the HTTP Host walk are
// designed to complete within this budget for any legitimate client.
const peekBufferSize = 4096

// Config wires the shared dependencies every listener needs: the
// upstream SOCKS5 client, the hostname whitelist, an optional idle
// tunnel pool, and a scoped logger. A nil Pool means every flow dials
// a fresh tunnel.
type Config struct {
	Socks5    *socksclient.Client
	Whitelist *whitelist.Whitelist
	Pool      *pool.Pool
	Metrics   *Metrics
	Logger    zerolog.Logger

	// ACLs is an optional, ordered pre-filter evaluated before the
	// whitelist. A nil/empty slice means every flow falls straight
	// through to the whitelist, unchanged from Config without ACLs.
	ACLs []acl.ACL
}

// resolveDestination runs the ACL chain, then the whitelist, to decide
// where (if anywhere) a flow should be proxied. ok is false when the
// flow must be dropped; otherwise host/port name the egress target.
func (c *Config) resolveDestination(remote net.Addr, hostname string, defaultPort int) (host string, port int, ok bool) {
	conn := &acl.ConnInfo{SrcAddr: remote, Domain: hostname}
	if err := acl.Decide(conn, c.ACLs); err != nil {
		return "", 0, false
	}

	switch conn.Decision {
	case acl.Reject:
		return "", 0, false
	case acl.Override:
		return conn.Dst.Addr().String(), int(conn.Dst.Port()), true
	default:
		if !c.Whitelist.Allow(hostname) {
			return "", 0, false
		}
		return hostname, defaultPort, true
	}
}

// dialTunnel acquires a TCP tunnel to host:port, going through the
// pool when one is configured and falling back to a direct CONNECT
// otherwise. The returned release func must be called exactly once:
// with ok=true when the tunnel was used cleanly and may be returned to
// the pool, false when it must be discarded.
func (c *Config) dialTunnel(ctx context.Context, host string, port int) (*socksclient.Tunnel, func(ok bool), error) {
	if c.Pool == nil {
		tunnel, err := c.Socks5.ConnectTCP(ctx, host, port)
		if err != nil {
			return nil, nil, err
		}
		return tunnel, func(bool) {}, nil
	}

	guard, err := c.Pool.Get(ctx, c.Socks5, host, port)
	if err != nil {
		return nil, nil, err
	}
	release := func(ok bool) {
		if ok {
			guard.Release()
		} else {
			guard.Discard()
		}
	}
	return guard.Tunnel(), release, nil
}
