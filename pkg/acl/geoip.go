package acl

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/oschwald/maxminddb-golang"
	"github.com/rs/zerolog"
)

// geoipACL rejects or allows connections by the country their source
// address resolves to in an MMDB database, the same decision the
// teacher's geoIP ACL makes, with the country lists read from the
// "acl.geoip.allowed"/"acl.geoip.blocked" config keys rather than from
// an external file (country lists are small and static in practice).
type geoipACL struct {
	Path             string
	AllowedCountries []string
	BlockedCountries []string
	Refresh          time.Duration
	mmdb             *maxminddb.Reader
	logger           *zerolog.Logger
	priority         uint
}

func toLowerSlice(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(v)
	}
	return out
}

func (g *geoipACL) country(ip net.IP) (string, error) {
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := g.mmdb.Lookup(ip, &record); err != nil {
		return "", err
	}
	return strings.ToLower(record.Country.ISOCode), nil
}

func (g *geoipACL) fetchDB(path string) ([]byte, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		resp, err := http.Get(path)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(path)
}

// loadLoop loads the MMDB once and re-reads it from disk/URL every
// Refresh interval, so an operator can update the database in place
// without restarting the proxy.
func (g *geoipACL) loadLoop() {
	for {
		raw, err := g.fetchDB(g.Path)
		if err != nil {
			g.logger.Warn().Err(err).Str("path", g.Path).Msg("geoip database fetch failed")
		} else if mmdb, err := maxminddb.FromBytes(raw); err != nil {
			g.logger.Warn().Err(err).Msg("geoip database parse failed")
		} else {
			g.mmdb = mmdb
			g.logger.Info().Int("bytes", len(raw)).Msg("geoip database loaded")
		}
		if g.Refresh <= 0 {
			return
		}
		time.Sleep(g.Refresh)
	}
}

// allowed reports whether addr should be let through. If the database
// has not loaded yet, it fails open. Blocked takes priority over
// allowed. A country on neither list is let through only when the
// blocked list is non-empty (allow-all-except); with an empty blocked
// list only allowed countries pass. A failed country lookup is rejected
// when the blocked list is non-empty and let through otherwise.
func (g *geoipACL) allowed(addr net.Addr) bool {
	if g.mmdb == nil {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}

	c, err := g.country(ip)
	if err != nil {
		g.logger.Debug().Err(err).Str("ip", host).Msg("geoip lookup failed")
		return len(g.BlockedCountries) == 0
	}
	if slices.Contains(g.BlockedCountries, c) {
		return false
	}
	if slices.Contains(g.AllowedCountries, c) {
		return true
	}
	return len(g.BlockedCountries) > 0
}

func (g *geoipACL) Decide(c *ConnInfo) error {
	if !g.allowed(c.SrcAddr) {
		g.logger.Info().Stringer("src", c.SrcAddr).Msg("rejecting connection by geoip policy")
		c.Decision = Reject
	}
	return nil
}

func (g *geoipACL) Name() string { return "geoip" }
func (g *geoipACL) Priority() uint {
	return g.priority
}

func (g *geoipACL) ConfigAndStart(logger *zerolog.Logger, c *koanf.Koanf) error {
	c = c.Cut(fmt.Sprintf("acl.%s", g.Name()))
	g.logger = logger
	g.Path = c.String("path")
	g.priority = uint(c.Int("priority"))
	g.AllowedCountries = toLowerSlice(c.Strings("allowed"))
	g.BlockedCountries = toLowerSlice(c.Strings("blocked"))
	g.Refresh = c.Duration("refresh_interval")
	go g.loadLoop()
	return nil
}

func init() {
	register(&geoipACL{})
}
