package listener

import (
	"context"
	"net"

	"github.com/snirelay/snirelay/pkg/flowlog"
	"github.com/snirelay/snirelay/pkg/httphost"
	"github.com/snirelay/snirelay/pkg/relay"
)

// RunHTTP accepts TCP connections on addr, extracts the HTTP Host
// header from each flow's request prefix, and — if the whitelist
// allows it — splices the connection to a SOCKS5 tunnel opened to
// (hostname, 80). It blocks until the listener is closed or ctx is
// cancelled.
func RunHTTP(ctx context.Context, addr string, cfg Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	cfg.Logger.Info().Str("addr", addr).Msg("listening http")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				cfg.Logger.Error().Err(err).Msg("http accept")
				continue
			}
		}
		go handleHTTP(ctx, conn, cfg)
	}
}

func handleHTTP(ctx context.Context, conn net.Conn, cfg Config) {
	incr(cfg.Metrics.safeReceivedHTTP())
	log := flowlog.WithRemote(flowlog.New(cfg.Logger, "http"), conn.RemoteAddr())
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	conn.SetReadDeadline(deadline())

	buf := make([]byte, peekBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		log.Debug().Err(err).Msg("http peek")
		return
	}
	conn.SetReadDeadline(noDeadline())

	hostname, err := httphost.Extract(buf[:n])
	if err != nil {
		log.Debug().Err(err).Msg("host extraction failed")
		return
	}
	log = flowlog.WithHostname(log, hostname)

	dialHost, dialPort, ok := cfg.resolveDestination(conn.RemoteAddr(), hostname, 80)
	if !ok {
		incr(cfg.Metrics.safeRejectedHTTP())
		log.Info().Msg("connection rejected by acl/whitelist")
		return
	}

	tunnel, release, err := cfg.dialTunnel(ctx, dialHost, dialPort)
	if err != nil {
		log.Warn().Err(err).Msg("socks5 connect failed")
		return
	}
	defer release(false)

	if _, err := tunnel.Write(buf[:n]); err != nil {
		log.Debug().Err(err).Msg("writing peeked request to upstream")
		return
	}

	incr(cfg.Metrics.safeProxiedHTTP())
	if err := relay.Splice(conn, tunnel); err != nil {
		log.Debug().Err(err).Msg("splice ended with error")
	}
}
