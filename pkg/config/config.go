// Package config loads the proxy's layered configuration: an embedded
// YAML default, an optional file override, then environment variables
// prefixed SNIPROXY_, all merged through koanf.
package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
)

//go:embed config.defaults.yaml
var defaultYAML []byte

// DefaultYAML returns the embedded default configuration, used by the
// --defaultconfig CLI flag to print a starting point for a config file.
func DefaultYAML() []byte {
	return defaultYAML
}

// EnvPrefix is stripped from environment variables before they are
// folded into the config tree; a double underscore maps to a dot, so
// SNIPROXY_SOCKS5__ADDR sets socks5.addr.
const EnvPrefix = "SNIPROXY_"

// Config is the fully resolved, typed configuration for one proxy
// instance, organized under server/socks5/dns/rules sections. The acl
// section is not part of it: acl.StartAll reads that from the koanf
// tree Load also returns.
type Config struct {
	Server Server
	Socks5 Socks5
	DNS    DNS
	Rules  Rules
}

type Server struct {
	ListenHTTPSAddr string
	ListenHTTPAddr  string
	ListenQUICAddr  string
	BindDNSOverUDP  string
	BindDNSOverTCP  string
	BindPrometheus  string
	LogLevel        string
	LogFormat       string
	PublicIPv4      string
	PublicIPv6      string
}

type Socks5 struct {
	Addr           string
	Timeout        time.Duration
	MaxConnections int
	Username       string
	Password       string
}

type DNS struct {
	Upstream string
}

type Rules struct {
	Allow []string
}

// Load builds a Config from the embedded defaults, optionally
// overridden by the YAML file at path (ignored if empty), then by
// EnvPrefix-prefixed environment variables. It returns the populated
// koanf instance too, since the ACL chain (acl.StartAll) cuts its own
// sub-tree out of the same config.
func Load(path string) (*Config, *koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultYAML), yaml.Parser()); err != nil {
		return nil, nil, fmt.Errorf("loading default config: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, nil, fmt.Errorf("loading config file %q: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyMap), nil); err != nil {
		return nil, nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	cfg := &Config{
		Server: Server{
			ListenHTTPSAddr: k.String("server.listen_https_addr"),
			ListenHTTPAddr:  k.String("server.listen_http_addr"),
			ListenQUICAddr:  k.String("server.listen_quic_addr"),
			BindDNSOverUDP:  k.String("server.bind_dns_over_udp"),
			BindDNSOverTCP:  k.String("server.bind_dns_over_tcp"),
			BindPrometheus:  k.String("server.bind_prometheus"),
			LogLevel:        k.String("server.log_level"),
			LogFormat:       k.String("server.log_format"),
			PublicIPv4:      k.String("server.public_ipv4"),
			PublicIPv6:      k.String("server.public_ipv6"),
		},
		Socks5: Socks5{
			Addr:           k.String("socks5.addr"),
			Timeout:        time.Duration(k.Int("socks5.timeout")) * time.Second,
			MaxConnections: k.Int("socks5.max_connections"),
			Username:       k.String("socks5.username"),
			Password:       k.String("socks5.password"),
		},
		DNS: DNS{
			Upstream: k.String("dns.upstream"),
		},
		Rules: Rules{
			Allow: k.Strings("rules.allow"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, k, nil
}

func envKeyMap(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate enforces that at least one listener is configured, and that
// socks5.addr is set since every listener depends on it for egress.
func (c *Config) Validate() error {
	if c.Server.ListenHTTPSAddr == "" && c.Server.ListenHTTPAddr == "" && c.Server.ListenQUICAddr == "" {
		return fmt.Errorf("config: at least one of server.listen_https_addr, server.listen_http_addr, server.listen_quic_addr must be set")
	}
	if c.Socks5.Addr == "" {
		return fmt.Errorf("config: socks5.addr is required")
	}
	return nil
}
