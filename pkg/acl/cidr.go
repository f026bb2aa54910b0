package acl

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/rs/zerolog"
	"github.com/yl2chen/cidranger"
)

// cidrACL filters connections by source address against an allow list
// and a reject list, both loaded from a CSV file or URL and refreshed
// on an interval. An address present in the reject ranger is dropped;
// one present in the allow ranger is marked Allow, which leaves the
// final decision to the ACLs that run after this one.
type cidrACL struct {
	Path            string
	RefreshInterval time.Duration
	allow           cidranger.Ranger
	reject          cidranger.Ranger
	logger          *zerolog.Logger
	priority        uint
}

func (d *cidrACL) loadCSV(path string) error {
	allow := cidranger.NewPCTrieRanger()
	reject := cidranger.NewPCTrieRanger()

	d.logger.Info().Str("path", path).Msg("loading cidr list")
	var scanner *bufio.Scanner
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		resp, err := http.Get(path)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		scanner = bufio.NewScanner(resp.Body)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		scanner = bufio.NewScanner(f)
	}

	for scanner.Scan() {
		cidrText, policy, found := strings.Cut(scanner.Text(), ",")
		if !found {
			d.logger.Warn().Str("line", cidrText).Msg("cidr list line missing policy column, assuming reject")
		}
		ranger := reject
		if policy == "allow" {
			ranger = allow
		}
		_, netw, err := net.ParseCIDR(cidrText)
		if err != nil {
			_, netw, err = net.ParseCIDR(cidrText + "/32")
		}
		if err != nil {
			d.logger.Error().Err(err).Str("line", cidrText).Msg("invalid cidr list entry")
			continue
		}
		_ = ranger.Insert(cidranger.NewBasicRangerEntry(*netw))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	d.allow = allow
	d.reject = reject
	d.logger.Info().Int("allow", d.allow.Len()).Int("reject", d.reject.Len()).Msg("cidr list loaded")
	return nil
}

func (d *cidrACL) refreshLoop() {
	for {
		if err := d.loadCSV(d.Path); err != nil {
			d.logger.Warn().Err(err).Msg("cidr list reload failed")
		}
		time.Sleep(d.RefreshInterval)
	}
}

func (d *cidrACL) Decide(c *ConnInfo) error {
	host, _, err := net.SplitHostPort(c.SrcAddr.String())
	if err != nil {
		host = c.SrcAddr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}

	if d.reject != nil {
		if match, err := d.reject.Contains(ip); match && err == nil {
			c.Decision = Reject
			return nil
		}
	}
	if d.allow != nil {
		if match, err := d.allow.Contains(ip); match && err == nil {
			c.Decision = Allow
		}
	}
	return nil
}

func (d *cidrACL) Name() string { return "cidr" }
func (d *cidrACL) Priority() uint {
	return d.priority
}

func (d *cidrACL) ConfigAndStart(logger *zerolog.Logger, c *koanf.Koanf) error {
	c = c.Cut(fmt.Sprintf("acl.%s", d.Name()))
	d.logger = logger
	d.Path = c.String("path")
	d.priority = uint(c.Int("priority"))
	d.RefreshInterval = c.Duration("refresh_interval")
	d.allow = cidranger.NewPCTrieRanger()
	d.reject = cidranger.NewPCTrieRanger()
	go d.refreshLoop()
	return nil
}

func init() {
	register(&cidrACL{})
}
