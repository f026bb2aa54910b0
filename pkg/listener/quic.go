package listener

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snirelay/snirelay/pkg/flowlog"
	"github.com/snirelay/snirelay/pkg/quicinitial"
	"github.com/snirelay/snirelay/pkg/socksclient"
)

// quicIdleTimeout bounds how long a UDP association is kept alive
// without the client endpoint sending another datagram.
const quicIdleTimeout = 2 * time.Minute

const quicReadBufferSize = 1500 // typical QUIC datagram; larger ones are dropped, not truncated.

// quicFlow is one client endpoint's association with the upstream
// relay, plus the bookkeeping needed to tear it down on idle.
type quicFlow struct {
	assoc      *socksclient.Association
	clientAddr *net.UDPAddr
	hostname   string
	lastActive time.Time
}

// RunQUIC listens for UDP datagrams on addr, inspects the first
// datagram from each client endpoint as a QUIC Initial packet,
// extracts its SNI, and — if the whitelist allows it — opens a SOCKS5
// UDP association and forwards datagrams bidirectionally for the life
// of that client endpoint. It blocks until ctx is cancelled.
func RunQUIC(ctx context.Context, addr string, cfg Config) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}

	d := &quicDispatcher{
		conn:  conn,
		cfg:   cfg,
		flows: make(map[string]*quicFlow),
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go d.sweepLoop(ctx)

	cfg.Logger.Info().Str("addr", addr).Msg("listening quic")
	return d.readLoop(ctx)
}

type quicDispatcher struct {
	conn *net.UDPConn
	cfg  Config

	mu    sync.Mutex
	flows map[string]*quicFlow
}

func (d *quicDispatcher) readLoop(ctx context.Context) error {
	buf := make([]byte, quicReadBufferSize)
	for {
		n, remote, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				d.cfg.Logger.Error().Err(err).Msg("quic read")
				continue
			}
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		go d.handleDatagram(ctx, remote, datagram)
	}
}

func (d *quicDispatcher) handleDatagram(ctx context.Context, remote *net.UDPAddr, datagram []byte) {
	incr(d.cfg.Metrics.safeReceivedQUIC())

	key := remote.String()
	if flow := d.lookupFlow(key); flow != nil {
		if err := flow.assoc.Send(datagram); err != nil {
			d.cfg.Logger.Debug().Err(err).Str("remote", key).Msg("quic forward to relay")
			d.dropFlow(key)
		}
		return
	}

	d.handleInitial(ctx, remote, datagram)
}

func (d *quicDispatcher) handleInitial(ctx context.Context, remote *net.UDPAddr, datagram []byte) {
	log := flowlog.WithRemote(flowlog.New(d.cfg.Logger, "quic"), remote)

	inspect := make([]byte, len(datagram))
	copy(inspect, datagram) // quicinitial.Extract mutates its argument; datagram must reach the relay unmodified.

	hostname, err := quicinitial.Extract(inspect)
	if err != nil {
		incr(d.cfg.Metrics.safeDroppedQUIC())
		log.Debug().Err(err).Msg("quic initial rejected")
		return
	}
	incr(d.cfg.Metrics.safeDecryptedQUIC())
	log = flowlog.WithHostname(log, hostname)

	dialHost, dialPort, ok := d.cfg.resolveDestination(remote, hostname, 443)
	if !ok {
		incr(d.cfg.Metrics.safeRejectedQUIC())
		log.Info().Msg("connection rejected by acl/whitelist")
		return
	}

	assoc, err := d.cfg.Socks5.AssociateUDP(ctx, dialHost, dialPort)
	if err != nil {
		log.Warn().Err(err).Msg("socks5 udp associate failed")
		return
	}

	flow := &quicFlow{assoc: assoc, clientAddr: remote, hostname: hostname, lastActive: time.Now()}
	d.storeFlow(remote.String(), flow)

	if err := assoc.Send(datagram); err != nil {
		log.Debug().Err(err).Msg("forwarding initial datagram to relay")
		d.dropFlow(remote.String())
		return
	}

	incr(d.cfg.Metrics.safeProxiedQUIC())
	go d.relayLoop(remote.String(), flow, log)
}

// relayLoop copies datagrams arriving from the upstream relay back to
// the client endpoint until the association errors or is dropped for
// idleness.
func (d *quicDispatcher) relayLoop(key string, flow *quicFlow, log zerolog.Logger) {
	buf := make([]byte, quicReadBufferSize)
	for {
		n, err := flow.assoc.Receive(buf)
		if err != nil {
			log.Debug().Err(err).Msg("quic relay receive")
			d.dropFlow(key)
			return
		}
		if _, err := d.conn.WriteToUDP(buf[:n], flow.clientAddr); err != nil {
			log.Debug().Err(err).Msg("quic relay forward to client")
			d.dropFlow(key)
			return
		}
	}
}

func (d *quicDispatcher) lookupFlow(key string) *quicFlow {
	d.mu.Lock()
	defer d.mu.Unlock()
	flow := d.flows[key]
	if flow != nil {
		flow.lastActive = time.Now()
	}
	return flow
}

func (d *quicDispatcher) storeFlow(key string, flow *quicFlow) {
	d.mu.Lock()
	d.flows[key] = flow
	d.mu.Unlock()
}

func (d *quicDispatcher) touchFlow(key string) {
	d.mu.Lock()
	if flow, ok := d.flows[key]; ok {
		flow.lastActive = time.Now()
	}
	d.mu.Unlock()
}

func (d *quicDispatcher) dropFlow(key string) {
	d.mu.Lock()
	flow, ok := d.flows[key]
	if ok {
		delete(d.flows, key)
	}
	d.mu.Unlock()
	if ok {
		flow.assoc.Close()
	}
}

// sweepLoop periodically closes associations whose client endpoint has
// gone quiet past quicIdleTimeout.
func (d *quicDispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(quicIdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce()
		}
	}
}

func (d *quicDispatcher) sweepOnce() {
	now := time.Now()
	var expired []*quicFlow

	d.mu.Lock()
	for key, flow := range d.flows {
		if now.Sub(flow.lastActive) > quicIdleTimeout {
			expired = append(expired, flow)
			delete(d.flows, key)
		}
	}
	d.mu.Unlock()

	for _, flow := range expired {
		flow.assoc.Close()
	}
}
