package listener

import (
	"context"
	"net"

	"github.com/snirelay/snirelay/pkg/flowlog"
	"github.com/snirelay/snirelay/pkg/relay"
	"github.com/snirelay/snirelay/pkg/tlssni"
)

// RunHTTPS accepts TCP connections on addr, extracts the TLS SNI from
// each flow's ClientHello, and — if the whitelist allows it — splices
// the connection to a SOCKS5 tunnel opened to (hostname, 443). It
// blocks until the listener is closed or ctx is cancelled.
func RunHTTPS(ctx context.Context, addr string, cfg Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	cfg.Logger.Info().Str("addr", addr).Msg("listening https")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				cfg.Logger.Error().Err(err).Msg("https accept")
				continue
			}
		}
		go handleHTTPS(ctx, conn, cfg)
	}
}

func handleHTTPS(ctx context.Context, conn net.Conn, cfg Config) {
	incr(cfg.Metrics.safeReceivedHTTPS())
	log := flowlog.WithRemote(flowlog.New(cfg.Logger, "https"), conn.RemoteAddr())
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	conn.SetReadDeadline(deadline())

	buf := make([]byte, peekBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		log.Debug().Err(err).Msg("https peek")
		return
	}
	conn.SetReadDeadline(noDeadline())

	hostname, err := tlssni.Extract(buf[:n])
	if err != nil {
		log.Debug().Err(err).Msg("sni extraction failed")
		return
	}
	log = flowlog.WithHostname(log, hostname)

	dialHost, dialPort, ok := cfg.resolveDestination(conn.RemoteAddr(), hostname, 443)
	if !ok {
		incr(cfg.Metrics.safeRejectedHTTPS())
		log.Info().Msg("connection rejected by acl/whitelist")
		return
	}

	tunnel, release, err := cfg.dialTunnel(ctx, dialHost, dialPort)
	if err != nil {
		log.Warn().Err(err).Msg("socks5 connect failed")
		return
	}
	defer release(false) // splice always drains the tunnel to EOF/close; never pooled mid-stream.

	if _, err := tunnel.Write(buf[:n]); err != nil {
		log.Debug().Err(err).Msg("writing peeked clienthello to upstream")
		return
	}

	incr(cfg.Metrics.safeProxiedHTTPS())
	if err := relay.Splice(conn, tunnel); err != nil {
		log.Debug().Err(err).Msg("splice ended with error")
	}
}
