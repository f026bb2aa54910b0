package socksclient

import (
	"context"
	"fmt"
	"net"

	"github.com/txthinking/socks5"
)

// Association wraps one RFC 1928 §7 UDP ASSOCIATE session: the TCP
// control channel whose lifetime bounds the association, the local
// UDP socket used to talk to the relay, and the relay's advertised
// endpoint. Owned exclusively by one QUIC flow.
type Association struct {
	control net.Conn
	relay   *net.UDPConn
	dstAddr []byte
	dstPort []byte
}

// AssociateUDP implements RFC 1928 §7: it opens a control connection,
// sends a UDP ASSOCIATE request asking for a client bind of 0.0.0.0:0,
// and opens a local UDP socket to the relay endpoint carried in the
// reply. Every datagram Send wraps carries DOMAINNAME addressing for
// host. The control channel must be kept open for the life of the
// association; closing it (via Close) tears down the relay server-side.
func (c *Client) AssociateUDP(ctx context.Context, host string, port int) (*Association, error) {
	conn, err := c.dialControl(ctx)
	if err != nil {
		return nil, err
	}

	dstAddr, dstPort := domainAddr(host, port)
	req := socks5.NewRequest(socks5.CmdUDP, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0})
	if _, err := req.WriteTo(conn); err != nil {
		conn.Close()
		return nil, egressErr("udp associate request", err)
	}
	reply, err := socks5.NewReplyFrom(conn)
	if err != nil {
		conn.Close()
		return nil, egressErr("udp associate reply", err)
	}
	if reply.Rep != socks5.RepSuccess {
		conn.Close()
		return nil, egressErr("udp associate", fmt.Errorf("server replied rep=%#x", reply.Rep))
	}

	relayAddr, err := relayUDPAddr(reply)
	if err != nil {
		conn.Close()
		return nil, egressErr("udp associate relay address", err)
	}
	relayConn, err := net.DialUDP("udp", nil, relayAddr)
	if err != nil {
		conn.Close()
		return nil, egressErr("dial relay", err)
	}

	return &Association{control: conn, relay: relayConn, dstAddr: dstAddr, dstPort: dstPort}, nil
}

func relayUDPAddr(reply *socks5.Reply) (*net.UDPAddr, error) {
	var ip net.IP
	switch reply.Atyp {
	case socks5.ATYPIPv4, socks5.ATYPIPv6:
		ip = net.IP(reply.BndAddr)
	case socks5.ATYPDomain:
		resolved, err := net.ResolveIPAddr("ip", string(reply.BndAddr))
		if err != nil {
			return nil, err
		}
		ip = resolved.IP
	default:
		return nil, fmt.Errorf("unknown BND.ATYP %#x", reply.Atyp)
	}
	port := int(reply.BndPort[0])<<8 | int(reply.BndPort[1])
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// Send wraps payload per RFC 1928 §7 with the association's fixed
// destination (the server hostname this flow was opened for) and sends
// it to the relay.
func (a *Association) Send(payload []byte) error {
	datagram := socks5.NewDatagram(socks5.ATYPDomain, a.dstAddr, a.dstPort, payload)
	_, err := a.relay.Write(datagram.Bytes())
	return err
}

// Receive reads one datagram from the relay and returns its unwrapped
// payload, discarding the RFC 1928 §7 header.
func (a *Association) Receive(buf []byte) (int, error) {
	n, err := a.relay.Read(buf)
	if err != nil {
		return 0, err
	}
	datagram, err := socks5.NewDatagramFromBytes(buf[:n])
	if err != nil {
		return 0, err
	}
	copy(buf, datagram.Data)
	return len(datagram.Data), nil
}

// Close tears down the association: closing the control channel first
// (which the relay treats as session end, per RFC 1928 §7), then the
// local relay socket.
func (a *Association) Close() error {
	err1 := a.control.Close()
	err2 := a.relay.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
