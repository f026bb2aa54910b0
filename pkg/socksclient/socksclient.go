// Package socksclient implements the egress side of the proxy: a
// SOCKS5 client speaking RFC 1928 (CONNECT, UDP ASSOCIATE) and RFC 1929
// (username/password subnegotiation) against a single configured
// upstream. TCP CONNECT always uses the DOMAINNAME address type,
// passing the extracted hostname through unresolved so the upstream
// proxy performs DNS resolution — the proxy's own process never
// resolves a destination hostname. Its only lookup is of a UDP relay
// address that the upstream returns in DOMAINNAME form.
package socksclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/txthinking/socks5"
)

// Auth carries optional RFC 1929 username/password credentials for the
// upstream SOCKS5 server. A zero value means "offer NO_AUTH only".
type Auth struct {
	Username string
	Password string
}

// Client is a configured upstream SOCKS5 endpoint. It is immutable and
// safe to share across flows; each CONNECT or UDP ASSOCIATE opens its
// own control connection.
type Client struct {
	Addr    string
	Auth    Auth
	Timeout time.Duration
}

// New returns a Client for addr (host:port of the upstream SOCKS5
// server).
func New(addr string, auth Auth, timeout time.Duration) *Client {
	return &Client{Addr: addr, Auth: auth, Timeout: timeout}
}

// EgressError is returned for every SOCKS5-level failure (handshake
// rejection, nonzero CONNECT/ASSOCIATE reply code, relay setup
// failure) — the taxonomy's "Egress" class.
type EgressError struct {
	Op  string
	Err error
}

func (e *EgressError) Error() string {
	return fmt.Sprintf("socks5 %s: %v", e.Op, e.Err)
}

func (e *EgressError) Unwrap() error { return e.Err }

func egressErr(op string, err error) error {
	return &EgressError{Op: op, Err: err}
}

// dialControl opens the TCP control connection to the upstream SOCKS5
// server and performs the method negotiation (RFC 1928 §3), including
// RFC 1929 username/password subnegotiation when credentials are
// configured.
func (c *Client) dialControl(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, egressErr("dial upstream", err)
	}

	methods := []byte{socks5.MethodNone}
	if c.Auth.Username != "" {
		methods = []byte{socks5.MethodUsernamePassword, socks5.MethodNone}
	}
	req := socks5.NewNegotiationRequest(methods)
	if _, err := req.WriteTo(conn); err != nil {
		conn.Close()
		return nil, egressErr("negotiation request", err)
	}
	reply, err := socks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		conn.Close()
		return nil, egressErr("negotiation reply", err)
	}

	switch reply.Method {
	case socks5.MethodNone:
		// no further negotiation required.
	case socks5.MethodUsernamePassword:
		upReq := socks5.NewUserPassNegotiationRequest([]byte(c.Auth.Username), []byte(c.Auth.Password))
		if _, err := upReq.WriteTo(conn); err != nil {
			conn.Close()
			return nil, egressErr("userpass request", err)
		}
		upReply, err := socks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			conn.Close()
			return nil, egressErr("userpass reply", err)
		}
		if upReply.Status != socks5.UserPassStatusSuccess {
			conn.Close()
			return nil, egressErr("userpass auth", fmt.Errorf("status %#x", upReply.Status))
		}
	default:
		conn.Close()
		return nil, egressErr("negotiation", fmt.Errorf("server chose unsupported method %#x", reply.Method))
	}

	return conn, nil
}

// domainAddr returns the raw DstAddr/DstPort byte pair for a
// DOMAINNAME-atyp SOCKS5 request. The domain is passed without a
// length prefix; socks5.NewRequest and socks5.NewDatagram prepend the
// on-the-wire length byte themselves when Atyp is ATYPDomain.
func domainAddr(host string, port int) ([]byte, []byte) {
	return []byte(host), []byte{byte(port >> 8), byte(port)}
}
