// Package acl implements an optional source-filtering pre-filter that
// runs before the hostname whitelist: CIDR allow/reject ranges, GeoIP
// country filtering, and a static destination override. Domain-pattern
// routing lives separately in pkg/domainlist; the override ACL rewrites
// a connection's destination rather than terminating TLS locally, so it
// stays within this proxy's never-terminate-TLS boundary.
package acl

import (
	"fmt"
	"net"
	"net/netip"
	"sort"

	"github.com/knadh/koanf"
	"github.com/rs/zerolog"
)

// Decision is the outcome an ACL assigns to a connection.
type Decision uint8

const (
	// Allow means this ACL has no objection; later ACLs and the
	// whitelist still get to decide.
	Allow Decision = iota
	// Reject drops the connection outright.
	Reject
	// Override replaces the connection's destination with Dst,
	// bypassing the hostname whitelist.
	Override
)

// ConnInfo carries the information an ACL needs to reach a Decision,
// and the Decision itself once one has been reached.
type ConnInfo struct {
	SrcAddr  net.Addr
	Domain   string
	Dst      netip.AddrPort
	Decision Decision
}

// ACL is one link in the chain. Decide may be called concurrently by
// different flows and must not mutate shared state without its own
// locking.
type ACL interface {
	Decide(*ConnInfo) error
	Name() string
	Priority() uint
	ConfigAndStart(*zerolog.Logger, *koanf.Koanf) error
}

type byPriority []ACL

func (a byPriority) Len() int           { return len(a) }
func (a byPriority) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byPriority) Less(i, j int) bool { return a[i].Priority() < a[j].Priority() }

// registry holds every ACL implementation linked into the binary; each
// registers itself from an init func.
var registry []ACL

func register(a ACL) {
	registry = append(registry, a)
}

// StartAll configures and starts every registered ACL whose
// "acl.<name>.enabled" key is true in k, returning the active subset
// sorted by ascending priority.
func StartAll(logger *zerolog.Logger, k *koanf.Koanf) ([]ACL, error) {
	var active []ACL
	aclK := k.Cut("acl")
	for _, a := range registry {
		if !aclK.Bool(fmt.Sprintf("%s.enabled", a.Name())) {
			continue
		}
		if err := a.ConfigAndStart(logger, k); err != nil {
			return active, err
		}
		active = append(active, a)
	}
	sort.Sort(byPriority(active))
	return active, nil
}

// Decide runs conn through every ACL in active, in order, stopping
// early once a Decision other than Allow has been made so a later,
// lower-priority ACL cannot overturn an earlier Reject or Override.
func Decide(conn *ConnInfo, active []ACL) error {
	for _, a := range active {
		if conn.Decision != Allow {
			return nil
		}
		if err := a.Decide(conn); err != nil {
			return err
		}
	}
	return nil
}
