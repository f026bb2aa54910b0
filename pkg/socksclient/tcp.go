package socksclient

import (
	"context"
	"fmt"

	"github.com/txthinking/socks5"
)

// ConnectTCP implements RFC 1928 §4's CONNECT: it opens a control
// connection, negotiates a method, sends a CONNECT request with
// DOMAINNAME addressing for host, and returns the resulting tunnel on
// success. The returned net.Conn carries the client's application
// bytes directly — the proxy never re-wraps them.
func (c *Client) ConnectTCP(ctx context.Context, host string, port int) (*Tunnel, error) {
	conn, err := c.dialControl(ctx)
	if err != nil {
		return nil, err
	}

	dstAddr, dstPort := domainAddr(host, port)
	req := socks5.NewRequest(socks5.CmdConnect, socks5.ATYPDomain, dstAddr, dstPort)
	if _, err := req.WriteTo(conn); err != nil {
		conn.Close()
		return nil, egressErr("connect request", err)
	}
	reply, err := socks5.NewReplyFrom(conn)
	if err != nil {
		conn.Close()
		return nil, egressErr("connect reply", err)
	}
	if reply.Rep != socks5.RepSuccess {
		conn.Close()
		return nil, egressErr("connect", fmt.Errorf("server replied rep=%#x", reply.Rep))
	}

	return &Tunnel{Conn: conn, Host: host, Port: port}, nil
}
