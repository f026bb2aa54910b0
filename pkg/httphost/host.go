// Package httphost extracts the destination hostname from a peeked
// HTTP/1.x request prefix without terminating HTTP semantics. Only the
// request line and the Host header are inspected.
package httphost

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrHostNotFound means the peek buffer contained a complete
// request-line+headers block but no Host header appeared in it.
var ErrHostNotFound = errors.New("no Host header found")

// ErrTruncated means the peek buffer ended before the end of the
// headers block (no blank line found): a truncated request is treated
// as a parse error rather than guessed at.
var ErrTruncated = errors.New("truncated request in peek buffer")

// ErrInvalidHost means the extracted Host value failed DNS-name
// validation after the :port suffix was stripped.
type ErrInvalidHost struct {
	Value string
}

func (e *ErrInvalidHost) Error() string {
	return fmt.Sprintf("invalid Host value %q", e.Value)
}

// Extract scans buf (a peeked prefix of an HTTP/1.x request) for the
// request line, preferring an absolute-URI request target over the
// Host header when both are present. The result is ASCII-lowercased
// with any :port suffix stripped.
func Extract(buf []byte) (string, error) {
	lines, complete := splitHeaderLines(buf)
	if !complete {
		return "", ErrTruncated
	}
	if len(lines) == 0 {
		return "", ErrHostNotFound
	}

	if host := hostFromRequestLine(lines[0]); host != "" {
		return normalizeHost(host)
	}

	for _, line := range lines[1:] {
		if host, ok := hostFromHeaderLine(line); ok {
			return normalizeHost(host)
		}
	}
	return "", ErrHostNotFound
}

// splitHeaderLines splits buf into CRLF- or LF-separated lines up to
// (but not including) the blank line terminating the header block. The
// second return value is false if no terminating blank line was found
// within buf (truncated peek).
func splitHeaderLines(buf []byte) ([]string, bool) {
	normalized := bytes.ReplaceAll(buf, []byte("\r\n"), []byte("\n"))
	idx := bytes.Index(normalized, []byte("\n\n"))
	if idx < 0 {
		return nil, false
	}
	head := normalized[:idx]
	if len(head) == 0 {
		return nil, true
	}
	return strings.Split(string(head), "\n"), true
}

// hostFromRequestLine extracts the host from a request line carrying
// an absolute URI, e.g. "GET http://host:port/path HTTP/1.1". Returns
// "" if the request line uses an origin-form target.
func hostFromRequestLine(line string) string {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return ""
	}
	target := fields[1]
	const scheme = "http://"
	if !strings.HasPrefix(strings.ToLower(target), scheme) {
		return ""
	}
	rest := target[len(scheme):]
	end := strings.IndexAny(rest, "/?")
	if end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func hostFromHeaderLine(line string) (string, bool) {
	if len(line) < 6 {
		return "", false
	}
	if !strings.EqualFold(line[:5], "Host:") {
		return "", false
	}
	return strings.TrimSpace(line[5:]), true
}

// normalizeHost strips a :port suffix (or terminates at the first '/'
// for a malformed header that smuggled a path), lowercases, and
// validates the result as a DNS name.
func normalizeHost(host string) (string, error) {
	if idx := strings.IndexAny(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	if strings.HasPrefix(host, "[") {
		// IPv6 literal: keep the brackets, drop a trailing :port.
		if end := strings.IndexByte(host, ']'); end >= 0 {
			host = host[:end+1]
		}
	} else if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if !isValidDNSName(host) {
		return "", &ErrInvalidHost{Value: host}
	}
	return host, nil
}

func isValidDNSName(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, b := range []byte(host) {
		switch {
		case b >= 'a' && b <= 'z':
		case b >= '0' && b <= '9':
		case b == '-' || b == '.':
		default:
			return false
		}
	}
	return true
}
