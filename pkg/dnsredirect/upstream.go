package dnsredirect

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	rdns "github.com/folbricht/routedns"
	doqclient "github.com/mosajjal/doqd/pkg/client"

	"github.com/miekg/dns"

	"github.com/snirelay/snirelay/pkg/dnsredirect/doh"
)

// queryTimeout bounds each query sent through the udp/tcp routedns
// client; the DoT, DoQ and DoH transports do not use it.
const queryTimeout = 5 * time.Second

// Upstream resolves queries the redirector does not answer itself. It
// wraps exactly one of a routedns.Resolver (udp/tcp/DoT), a DoQ client,
// or a DoH client, selected by the configured URI's scheme.
type Upstream struct {
	resolver rdns.Resolver
	doq      *doqclient.Client
	doh      *doh.Client
}

// NewUpstream parses uri (schemes udp(6)://, tcp(6)://, tcp-tls(6)://,
// quic://, https://) and returns a configured Upstream.
func NewUpstream(uri string) (*Upstream, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream DNS URI %q: %w", uri, err)
	}

	switch parsed.Scheme {
	case "udp", "udp6", "tcp", "tcp6":
		host, port, err := net.SplitHostPort(parsed.Host)
		if err != nil {
			host, port = parsed.Host, "53"
		}
		addr := rdns.AddressWithDefault(host, port)
		network := "udp"
		if strings.HasPrefix(parsed.Scheme, "tcp") {
			network = "tcp"
		}
		r, err := rdns.NewDNSClient("upstream", addr, network, rdns.DNSClientOptions{QueryTimeout: queryTimeout})
		if err != nil {
			return nil, err
		}
		return &Upstream{resolver: r}, nil

	case "tls", "tls6", "tcp-tls", "tcp-tls6":
		tlsConfig, err := rdns.TLSClientConfig("", "", "", parsed.Host)
		if err != nil {
			return nil, err
		}
		r, err := rdns.NewDoTClient("upstream", parsed.Host, rdns.DoTClientOptions{TLSConfig: tlsConfig})
		if err != nil {
			return nil, err
		}
		return &Upstream{resolver: r}, nil

	case "quic":
		c, err := doqclient.New(doqclient.Config{Server: parsed.Host, TLSSkipVerify: true, Compat: true})
		if err != nil {
			return nil, err
		}
		return &Upstream{doq: &c}, nil

	case "https":
		c, err := doh.New(*parsed, true, true)
		if err != nil {
			return nil, err
		}
		return &Upstream{doh: &c}, nil

	default:
		return nil, fmt.Errorf("unsupported upstream DNS scheme %q", parsed.Scheme)
	}
}

// Query forwards msg upstream and returns the response, dispatching to
// whichever transport this Upstream was configured with.
func (u *Upstream) Query(msg *dns.Msg) (*dns.Msg, error) {
	switch {
	case u.resolver != nil:
		return u.resolver.Resolve(msg, rdns.ClientInfo{})
	case u.doq != nil:
		resp, err := u.doq.SendQuery(*msg)
		return &resp, err
	case u.doh != nil:
		resp, _, err := u.doh.SendQuery(*msg)
		return &resp, err
	default:
		return nil, fmt.Errorf("upstream not configured")
	}
}
