// Package domainlist implements a prefix/suffix/exact hostname matcher
// backed by a ternary search tree, usable by both the ACL chain and the
// DNS redirector to decide which hostnames match a routing rule.
package domainlist

import (
	"bufio"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-collections/collections/tst"
	"github.com/rs/zerolog"
)

// Kind distinguishes how an entry should be matched against a query
// hostname.
type Kind uint8

const (
	// Prefix matches any hostname that starts with the entry.
	Prefix Kind = iota
	// Suffix matches any hostname that ends with the entry.
	Suffix
	// Exact matches only the entry itself.
	Exact
)

// List is a concurrency-safe set of hostname patterns, queryable with
// Contains. The zero value is not usable; call New.
type List struct {
	mu       sync.RWMutex
	prefixes *tst.TernarySearchTree
	suffixes *tst.TernarySearchTree
	exact    map[string]struct{}
	logger   zerolog.Logger
}

// New returns an empty List.
func New(logger zerolog.Logger) *List {
	return &List{
		prefixes: tst.New(),
		suffixes: tst.New(),
		exact:    make(map[string]struct{}),
		logger:   logger,
	}
}

// Add inserts one pattern of the given kind. Hostnames are matched
// case-insensitively with a trailing dot.
func (l *List) Add(pattern string, kind Kind) {
	pattern = normalize(pattern)
	l.mu.Lock()
	defer l.mu.Unlock()
	switch kind {
	case Prefix:
		l.prefixes.Insert(pattern, pattern)
	case Suffix:
		// a suffix match is a prefix match on the reversed string.
		l.suffixes.Insert(reverseString(pattern), pattern)
	default:
		l.exact[pattern] = struct{}{}
	}
}

// Reset discards every pattern currently held.
func (l *List) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prefixes = tst.New()
	l.suffixes = tst.New()
	l.exact = make(map[string]struct{})
}

// Contains reports whether fqdn matches any pattern in the list.
func (l *List) Contains(fqdn string) bool {
	fqdn = normalize(fqdn)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.exact[fqdn]; ok {
		return true
	}
	if l.prefixes.GetLongestPrefix(fqdn) != nil {
		return true
	}
	if l.suffixes.GetLongestPrefix(reverseString(fqdn)) != nil {
		return true
	}
	return false
}

func normalize(s string) string {
	s = strings.ToLower(s)
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < len(r)/2; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// LoadCSV loads path (a local file or an http(s) URL) into l, replacing
// whatever was previously loaded. Each line is "hostname,kind" where
// kind is one of "prefix", "suffix", or "fqdn"; a line with no comma is
// treated as an exact match.
func (l *List) LoadCSV(path string) error {
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

	fresh := New(l.logger)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}
		host, kindStr, found := strings.Cut(line, ",")
		if !found {
			fresh.Add(host, Exact)
			continue
		}
		switch kindStr {
		case "prefix":
			fresh.Add(host, Prefix)
		case "suffix":
			fresh.Add(host, Suffix)
		default:
			fresh.Add(host, Exact)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.prefixes = fresh.prefixes
	l.suffixes = fresh.suffixes
	l.exact = fresh.exact
	l.mu.Unlock()
	return nil
}

// Watch reloads path every interval until stop is closed, logging but
// not returning load errors so a transient fetch failure leaves the
// previous list in place.
func (l *List) Watch(path string, interval time.Duration, stop <-chan struct{}) {
	for {
		if err := l.LoadCSV(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("domainlist reload failed")
		}
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
	}
}
