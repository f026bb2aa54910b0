package socksclient

import "net"

// Tunnel wraps an established TCP connection to the upstream SOCKS5
// proxy after a successful CONNECT. It is owned exclusively by the
// flow that created it, unless returned to a pool.
type Tunnel struct {
	net.Conn
	Host string
	Port int
}

// CloseWrite propagates a half-close from the client side onto this
// tunnel, if the underlying connection supports it (it always does for
// TCP). The read half remains open so data already in flight from the
// upstream continues to be delivered.
func (t *Tunnel) CloseWrite() error {
	if cw, ok := t.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// CloseRead propagates a half-close from the upstream side.
func (t *Tunnel) CloseRead() error {
	if cr, ok := t.Conn.(interface{ CloseRead() error }); ok {
		return cr.CloseRead()
	}
	return nil
}
