// Package dnsredirect implements the DNS override the proxy relies on
// to get traffic in the front door: an authoritative-looking DNS
// server that answers A/AAAA queries for whitelisted hostnames with
// the proxy's own public address, and forwards everything else to a
// configured upstream resolver.
package dnsredirect

import (
	"net/netip"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/snirelay/snirelay/pkg/whitelist"
)

// Config wires one DNS redirector instance.
type Config struct {
	// PublicIPv4/PublicIPv6 are returned for whitelisted A/AAAA
	// queries. PublicIPv6 may be the zero value, in which case AAAA
	// queries for whitelisted names get an empty answer rather than a
	// synthesized record.
	PublicIPv4 netip.Addr
	PublicIPv6 netip.Addr

	Whitelist *whitelist.Whitelist
	Upstream  *Upstream
	Logger    zerolog.Logger
}

// Server answers DNS queries per Config and can be bound to UDP and/or
// TCP.
type Server struct {
	cfg Config
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// ListenAndServe runs a DNS server on addr using the given network
// ("udp" or "tcp") until it errors or is shut down. Call it in its own
// goroutine per network.
func (s *Server) ListenAndServe(network, addr string) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handle)
	server := &dns.Server{Addr: addr, Net: network, Handler: mux}
	s.cfg.Logger.Info().Str("addr", addr).Str("net", network).Msg("listening dns")
	return server.ListenAndServe()
}

func (s *Server) handle(w dns.ResponseWriter, r *dns.Msg) {
	reply := new(dns.Msg)
	reply.SetReply(r)
	reply.Compress = false

	if r.Opcode != dns.OpcodeQuery {
		reply.SetRcode(r, dns.RcodeNotImplemented)
		w.WriteMsg(reply)
		return
	}

	for _, q := range r.Question {
		answers, err := s.answerQuestion(q)
		if err != nil {
			s.cfg.Logger.Debug().Err(err).Str("name", q.Name).Msg("dns question failed")
			continue
		}
		reply.Answer = append(reply.Answer, answers...)
	}
	w.WriteMsg(reply)
}

func (s *Server) answerQuestion(q dns.Question) ([]dns.RR, error) {
	name := q.Name
	hostname := name
	if len(hostname) > 0 && hostname[len(hostname)-1] == '.' {
		hostname = hostname[:len(hostname)-1]
	}

	if s.cfg.Whitelist.Allow(hostname) {
		return s.answerSelf(q)
	}

	if s.cfg.Upstream == nil {
		return nil, nil
	}
	resp, err := s.cfg.Upstream.Query(&dns.Msg{Question: []dns.Question{q}})
	if err != nil {
		return nil, err
	}
	return resp.Answer, nil
}

func (s *Server) answerSelf(q dns.Question) ([]dns.RR, error) {
	switch q.Qtype {
	case dns.TypeA:
		if !s.cfg.PublicIPv4.IsValid() {
			return nil, nil
		}
		rr, err := dns.NewRR(q.Name + " A " + s.cfg.PublicIPv4.String())
		if err != nil {
			return nil, err
		}
		return []dns.RR{rr}, nil
	case dns.TypeAAAA:
		if !s.cfg.PublicIPv6.IsValid() {
			return []dns.RR{}, nil
		}
		rr, err := dns.NewRR(q.Name + " AAAA " + s.cfg.PublicIPv6.String())
		if err != nil {
			return nil, err
		}
		return []dns.RR{rr}, nil
	default:
		return []dns.RR{}, nil
	}
}
