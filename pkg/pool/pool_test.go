package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/txthinking/socks5"

	"github.com/snirelay/snirelay/pkg/socksclient"
)

// mockSocks5Server accepts CONNECT requests forever, replying success
// to each and echoing nothing further (tests only exercise the
// checkout/return path, not data transfer).
func mockSocks5Server(t *testing.T) string {
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
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						conn.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestGetCreatesThenReleaseAllowsReuse(t *testing.T) {
	addr := mockSocks5Server(t)
	client := socksclient.New(addr, socksclient.Auth{}, 2*time.Second)
	p := New(Config{MaxConnections: 2})

	ctx := context.Background()
	g1, err := p.Get(ctx, client, "example.com", 443)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first := g1.Tunnel()
	g1.Release()

	stats := p.Stats()
	if stats.Idle != 1 || stats.Active != 0 {
		t.Fatalf("after release: got %+v, want 1 idle, 0 active", stats)
	}

	g2, err := p.Get(ctx, client, "example.com", 443)
	if err != nil {
		t.Fatalf("Get (reuse): %v", err)
	}
	if g2.Tunnel() != first {
		t.Fatalf("expected the idle tunnel to be reused, got a distinct tunnel")
	}
	g2.Discard()

	stats = p.Stats()
	if stats.Total != 0 {
		t.Fatalf("after discard: got %+v, want 0 total", stats)
	}
}

func TestGetDistinctKeysDoNotShare(t *testing.T) {
	addr := mockSocks5Server(t)
	client := socksclient.New(addr, socksclient.Auth{}, 2*time.Second)
	p := New(Config{MaxConnections: 4})

	ctx := context.Background()
	gA, err := p.Get(ctx, client, "a.example", 443)
	if err != nil {
		t.Fatalf("Get a: %v", err)
	}
	gA.Release()

	gB, err := p.Get(ctx, client, "b.example", 443)
	if err != nil {
		t.Fatalf("Get b: %v", err)
	}
	if gB.Tunnel() == gA.Tunnel() {
		t.Fatalf("expected distinct tunnels for distinct keys")
	}
	gB.Discard()
}

func TestReleaseExpiredByIdleTimeoutIsNotReused(t *testing.T) {
	addr := mockSocks5Server(t)
	client := socksclient.New(addr, socksclient.Auth{}, 2*time.Second)
	p := New(Config{MaxConnections: 2, IdleTimeout: time.Millisecond})

	ctx := context.Background()
	g1, err := p.Get(ctx, client, "example.com", 443)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first := g1.Tunnel()
	g1.Release()

	time.Sleep(5 * time.Millisecond)

	g2, err := p.Get(ctx, client, "example.com", 443)
	if err != nil {
		t.Fatalf("Get after idle expiry: %v", err)
	}
	if g2.Tunnel() == first {
		t.Fatalf("expected the expired idle tunnel to be rejected, not reused")
	}
	g2.Discard()
}

func TestMaxIdlePerKeyCapsPooledConnections(t *testing.T) {
	addr := mockSocks5Server(t)
	client := socksclient.New(addr, socksclient.Auth{}, 2*time.Second)
	p := New(Config{MaxConnections: 10, MaxIdlePerKey: 1})

	ctx := context.Background()
	g1, err := p.Get(ctx, client, "example.com", 443)
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	g2, err := p.Get(ctx, client, "example.com", 443)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}

	g1.Release()
	g2.Release() // pool already has 1 idle entry for this key; this one is closed outright.

	stats := p.Stats()
	if stats.Idle != 1 {
		t.Fatalf("got %d idle, want 1 (MaxIdlePerKey=1)", stats.Idle)
	}
	if stats.Total != 1 {
		t.Fatalf("got %d total, want 1 (second release freed its slot)", stats.Total)
	}
}

func TestGetBlocksUntilCapacityFreed(t *testing.T) {
	addr := mockSocks5Server(t)
	client := socksclient.New(addr, socksclient.Auth{}, 2*time.Second)
	p := New(Config{MaxConnections: 1})

	ctx := context.Background()
	g1, err := p.Get(ctx, client, "a.example", 443)
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		ctx2, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		g2, err := p.Get(ctx2, client, "b.example", 443)
		if err == nil {
			g2.Discard()
		}
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("expected Get to block while capacity is exhausted, got err=%v", err)
	case <-time.After(20 * time.Millisecond):
	}

	g1.Discard()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Get after capacity freed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Get never unblocked after capacity was freed")
	}
}

func TestSweepClosesExpiredIdleConnectionsOnly(t *testing.T) {
	addr := mockSocks5Server(t)
	client := socksclient.New(addr, socksclient.Auth{}, 2*time.Second)
	p := New(Config{MaxConnections: 2, IdleTimeout: time.Millisecond})

	ctx := context.Background()
	g1, err := p.Get(ctx, client, "example.com", 443)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	g1.Release()

	time.Sleep(5 * time.Millisecond)
	p.Sweep()

	stats := p.Stats()
	if stats.Total != 0 {
		t.Fatalf("got %+v, want the expired idle entry swept away", stats)
	}
}
