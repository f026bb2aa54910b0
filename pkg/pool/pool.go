// Package pool implements an advisory idle-connection pool for
// upstream SOCKS5 TCP tunnels, keyed by (host, port). Reusing an idle
// tunnel skips a fresh CONNECT round trip for repeat destinations; a
// caller is always free to bypass the pool and dial fresh.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/snirelay/snirelay/pkg/socksclient"
)

// Config bounds the pool's behavior. Zero-valued fields fall back to
// the defaults applied by New.
type Config struct {
	// MaxConnections bounds the sum of active (checked-out) and idle
	// tunnels. Get blocks until a slot is free.
	MaxConnections int
	// IdleTimeout is how long a returned tunnel may sit idle before it
	// is no longer handed out and is closed on the next sweep.
	IdleTimeout time.Duration
	// MaxLifetime bounds a tunnel's age regardless of activity.
	MaxLifetime time.Duration
	// MaxIdlePerKey caps how many idle tunnels are kept for a single
	// (host, port); connections returned beyond this are closed
	// immediately rather than pooled.
	MaxIdlePerKey int
}

const (
	defaultMaxConnections = 100
	defaultIdleTimeout    = 60 * time.Second
	defaultMaxLifetime    = 300 * time.Second
	defaultMaxIdlePerKey  = 5
)

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = defaultMaxLifetime
	}
	if c.MaxIdlePerKey <= 0 {
		c.MaxIdlePerKey = defaultMaxIdlePerKey
	}
	return c
}

type entry struct {
	tunnel    *socksclient.Tunnel
	createdAt time.Time
	lastUsed  time.Time
	useCount  uint64
}

// Pool holds idle SOCKS5 tunnels for reuse. The zero value is not
// usable; construct with New.
type Pool struct {
	cfg Config

	mu    sync.Mutex
	idle  map[string][]*entry
	total int // active + idle, bounded by cfg.MaxConnections

	sem chan struct{}

	hits   metrics.Counter
	misses metrics.Counter
}

// New returns an empty Pool bounded by cfg.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:    cfg,
		idle:   make(map[string][]*entry),
		sem:    make(chan struct{}, cfg.MaxConnections),
		hits:   metrics.NewRegisteredCounter("proxy.pool.hits", nil),
		misses: metrics.NewRegisteredCounter("proxy.pool.misses", nil),
	}
}

func key(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Get returns a tunnel to host:port, reusing an idle one if a live
// candidate exists; otherwise it blocks for a free capacity slot and
// dials a fresh CONNECT through client. The returned Guard must be
// closed by the caller (via Release or Discard) exactly once.
func (p *Pool) Get(ctx context.Context, client *socksclient.Client, host string, port int) (*Guard, error) {
	k := key(host, port)

	if t := p.takeIdle(k); t != nil {
		p.hits.Inc(1)
		return &Guard{pool: p, key: k, entry: t}, nil
	}
	p.misses.Inc(1)

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tunnel, err := client.ConnectTCP(ctx, host, port)
	if err != nil {
		<-p.sem
		return nil, err
	}

	p.mu.Lock()
	p.total++
	p.mu.Unlock()

	now := time.Now()
	return &Guard{
		pool: p,
		key:  k,
		entry: &entry{
			tunnel:    tunnel,
			createdAt: now,
			lastUsed:  now,
			useCount:  1,
		},
	}, nil
}

// takeIdle pops the first live idle tunnel for key k, discarding (and
// closing) any expired ones it encounters ahead of it in the list.
func (p *Pool) takeIdle(k string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.idle[k]
	now := time.Now()
	for len(conns) > 0 {
		c := conns[0]
		conns = conns[1:]
		if p.expired(c, now) {
			p.total--
			<-p.sem
			c.tunnel.Close()
			continue
		}
		if len(conns) == 0 {
			delete(p.idle, k)
		} else {
			p.idle[k] = conns
		}
		return c
	}
	delete(p.idle, k)
	return nil
}

func (p *Pool) expired(c *entry, now time.Time) bool {
	return now.Sub(c.createdAt) > p.cfg.MaxLifetime || now.Sub(c.lastUsed) > p.cfg.IdleTimeout
}

// release returns a tunnel to the idle set, or closes it outright if
// it has expired or the per-key idle cap is already full.
func (p *Pool) release(k string, e *entry) {
	now := time.Now()
	e.lastUsed = now

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.expired(e, now) {
		p.total--
		<-p.sem
		e.tunnel.Close()
		return
	}

	conns := p.idle[k]
	if len(conns) >= p.cfg.MaxIdlePerKey {
		p.total--
		<-p.sem
		e.tunnel.Close()
		return
	}
	p.idle[k] = append(conns, e)
}

// discard closes a checked-out tunnel instead of returning it to the
// idle set, freeing its capacity slot.
func (p *Pool) discard(e *entry) {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	<-p.sem
	e.tunnel.Close()
}

// Sweep closes every idle tunnel that has exceeded IdleTimeout or
// MaxLifetime. Call it periodically from a background goroutine; it
// never touches checked-out tunnels.
func (p *Pool) Sweep() {
	now := time.Now()

	p.mu.Lock()
	var toClose []*entry
	for k, conns := range p.idle {
		kept := conns[:0]
		for _, c := range conns {
			if p.expired(c, now) {
				toClose = append(toClose, c)
				p.total--
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(p.idle, k)
		} else {
			p.idle[k] = kept
		}
	}
	p.mu.Unlock()

	for _, c := range toClose {
		<-p.sem
		c.tunnel.Close()
	}
}

// Stats reports a point-in-time snapshot of pool occupancy.
type Stats struct {
	Active int
	Idle   int
	Total  int
	Hits   int64
	Misses int64
}

// Stats returns the current active/idle/total counts, plus the
// cumulative hit/miss counts Get has recorded since the pool was
// created.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := 0
	for _, conns := range p.idle {
		idle += len(conns)
	}
	return Stats{
		Active: p.total - idle,
		Idle:   idle,
		Total:  p.total,
		Hits:   p.hits.Count(),
		Misses: p.misses.Count(),
	}
}

// Guard wraps one checked-out tunnel. Exactly one of Release or
// Discard must be called to settle it.
type Guard struct {
	pool  *Pool
	key   string
	entry *entry

	settled bool
}

// Tunnel returns the underlying tunnel for the caller to read/write.
func (g *Guard) Tunnel() *socksclient.Tunnel {
	return g.entry.tunnel
}

// Release returns the tunnel to the pool for reuse by a later flow.
// Call this only when the tunnel was used successfully and is known
// to still be in a clean protocol state (nothing buffered, no
// half-close issued).
func (g *Guard) Release() {
	if g.settled {
		return
	}
	g.settled = true
	g.entry.useCount++
	g.pool.release(g.key, g.entry)
}

// Discard closes the tunnel instead of pooling it — the correct choice
// whenever the flow consumed it for a one-shot relay (CONNECT tunnels
// are not safe to hand to a second flow mid-stream) or it failed.
func (g *Guard) Discard() {
	if g.settled {
		return
	}
	g.settled = true
	g.pool.discard(g.entry)
}
