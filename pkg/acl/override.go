package acl

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/knadh/koanf"
	"github.com/rs/zerolog"
)

// overrideACL redirects specific hostnames to an operator-chosen
// destination instead of whatever the whitelist/SOCKS5 path would
// otherwise reach, read from a static "host: ip:port" map in config.
// The teacher's override ACL additionally terminated TLS locally for
// redirected hosts via inet.af/tcpproxy and a DoH server; that path
// sits outside this proxy's never-terminate-TLS boundary and is
// dropped here, leaving the destination-rewrite behavior.
type overrideACL struct {
	rules    map[string]netip.AddrPort
	logger   *zerolog.Logger
	priority uint
}

func (o *overrideACL) Decide(c *ConnInfo) error {
	domain := strings.TrimSuffix(strings.ToLower(c.Domain), ".")
	for host, dst := range o.rules {
		if strings.TrimSuffix(host, ".") == domain {
			c.Decision = Override
			c.Dst = dst
			o.logger.Debug().Str("domain", domain).Stringer("dst", dst).Msg("overriding destination")
			return nil
		}
	}
	return nil
}

func (o *overrideACL) Name() string { return "override" }
func (o *overrideACL) Priority() uint {
	return o.priority
}

func (o *overrideACL) ConfigAndStart(logger *zerolog.Logger, c *koanf.Koanf) error {
	c = c.Cut(fmt.Sprintf("acl.%s", o.Name()))
	o.logger = logger
	o.priority = uint(c.Int("priority"))
	o.rules = make(map[string]netip.AddrPort)
	for host, dstStr := range c.StringMap("rules") {
		dst, err := netip.ParseAddrPort(dstStr)
		if err != nil {
			return fmt.Errorf("override rule %q -> %q: %w", host, dstStr, err)
		}
		o.rules[strings.ToLower(host)] = dst
	}
	return nil
}

func init() {
	register(&overrideACL{})
}
