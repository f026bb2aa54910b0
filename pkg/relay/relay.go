// Package relay implements the bidirectional byte splice shared by the
// HTTPS and HTTP listeners once a SOCKS5 tunnel has been opened: copy
// client bytes to upstream and upstream bytes to client concurrently,
// propagating a half-close from either side instead of collapsing the
// whole flow the instant one direction goes quiet.
package relay

import (
	"errors"
	"io"
	"net"

	"golang.org/x/sync/errgroup"
)

// halfCloser is satisfied by net.TCPConn and by socksclient.Tunnel;
// both forward CloseWrite/CloseRead onto the wrapped connection.
type halfCloser interface {
	CloseWrite() error
}

// Splice copies bytes between client and upstream in both directions
// until both directions have drained. When one direction hits EOF, its
// destination's write half is half-closed (if supported) rather than
// the whole connection being torn down, so that the still-open
// direction keeps delivering any data already in flight. Splice
// returns once both copies have finished; a non-EOF error from either
// copy is returned (the first one observed).
func Splice(client, upstream net.Conn) error {
	var g errgroup.Group

	g.Go(func() error { return copyHalf(upstream, client) })
	g.Go(func() error { return copyHalf(client, upstream) })

	if err := g.Wait(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// copyHalf copies from src to dst until src is exhausted, then
// half-closes dst's write side so the opposite copyHalf call can still
// flush anything upstream has left to send.
func copyHalf(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if hc, ok := dst.(halfCloser); ok {
		hc.CloseWrite()
	}
	if err != nil && !isClosedConnErr(err) {
		return err
	}
	return nil
}

func isClosedConnErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
