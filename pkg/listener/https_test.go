package listener

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/txthinking/socks5"

	"github.com/snirelay/snirelay/pkg/socksclient"
	"github.com/snirelay/snirelay/pkg/whitelist"
)

func be16(n int) []byte { return []byte{byte(n >> 8), byte(n)} }

// buildClientHello assembles a minimal TLS record wrapping a
// ClientHello carrying host in its server_name extension.
func buildClientHello(t *testing.T, host string) []byte {
	t.Helper()
	nameEntry := append([]byte{0x00}, be16(len(host))...)
	nameEntry = append(nameEntry, []byte(host)...)
	serverNameList := append(be16(len(nameEntry)), nameEntry...)
	sniExt := append([]byte{0x00, 0x00}, be16(len(serverNameList))...)
	sniExt = append(sniExt, serverNameList...)

	hello := make([]byte, 0, 64)
	hello = append(hello, 0x03, 0x03)
	hello = append(hello, make([]byte, 32)...)
	hello = append(hello, 0x00)
	hello = append(hello, 0x00, 0x02, 0x13, 0x01)
	hello = append(hello, 0x01, 0x00)
	hello = append(hello, be16(len(sniExt))...)
	hello = append(hello, sniExt...)

	handshake := append([]byte{0x01}, byte(len(hello)>>16), byte(len(hello)>>8), byte(len(hello)))
	handshake = append(handshake, hello...)

	record := append([]byte{0x16, 0x03, 0x01}, be16(len(handshake))...)
	record = append(record, handshake...)
	return record
}

// mockSocks5EchoServer accepts CONNECT requests for any destination,
// replies success, and echoes whatever bytes arrive back to the
// caller — standing in for the real upstream proxy and origin server.
func mockSocks5EchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if _, err := socks5.NewNegotiationRequestFrom(conn); err != nil {
					return
				}
				socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(conn)
				if _, err := socks5.NewRequestFrom(conn); err != nil {
					return
				}
				reply := socks5.NewReply(socks5.RepSuccess, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0})
				reply.WriteTo(conn)
				io.Copy(conn, conn)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func testConfig(t *testing.T, socksAddr string, patterns []string) Config {
	t.Helper()
	return Config{
		Socks5:    socksclient.New(socksAddr, socksclient.Auth{}, 2*time.Second),
		Whitelist: whitelist.New(patterns),
		Logger:    zerolog.Nop(),
	}
}

func TestHandleHTTPSAllowedHostnameSplicesToUpstream(t *testing.T) {
	socksAddr := mockSocks5EchoServer(t)
	cfg := testConfig(t, socksAddr, nil) // nil whitelist => allow all

	client, server := tcpPipePair(t)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		handleHTTPS(context.Background(), server, cfg)
		close(done)
	}()

	hello := buildClientHello(t, "www.example.com")
	if _, err := client.Write(hello); err != nil {
		t.Fatalf("write clienthello: %v", err)
	}

	buf := make([]byte, len(hello))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("expected the clienthello echoed back through the tunnel: %v", err)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handleHTTPS never returned after client closed")
	}
}

func TestHandleHTTPSRejectedHostnameNeverDialsUpstream(t *testing.T) {
	socksAddr := mockSocks5EchoServer(t)
	cfg := testConfig(t, socksAddr, []string{"*.allowed.example"})

	client, server := tcpPipePair(t)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		handleHTTPS(context.Background(), server, cfg)
		close(done)
	}()

	hello := buildClientHello(t, "evil.example")
	if _, err := client.Write(hello); err != nil {
		t.Fatalf("write clienthello: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handleHTTPS never returned for a rejected hostname")
	}

	buf := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected the connection to be closed with no bytes echoed back")
	}
}

func tcpPipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := <-accepted
	return client, server
}
