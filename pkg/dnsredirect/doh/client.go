// Package doh is a minimal DNS-over-HTTPS client used as one of the
// upstream resolver transports for the DNS redirector.
package doh

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/miekg/dns"
)

// Client sends DNS queries to a single DoH endpoint over GET, encoding
// the wire-format query as base64url per RFC 8484 §4.1.
type Client struct {
	trace *httptrace.ClientTrace
	url   url.URL
}

// New returns a Client targeting server. tlsInsecureSkipVerify and
// compat are accepted for interface parity with the DoQ client but are
// not currently used by the GET-based transport.
func New(server url.URL, tlsInsecureSkipVerify bool, compat bool) (Client, error) {
	return Client{
		trace: &httptrace.ClientTrace{},
		url:   server,
	}, nil
}

// SendQuery packs msg, issues the GET request, and unpacks the
// response. It returns the elapsed round-trip time alongside the
// response.
func (c Client) SendQuery(msg dns.Msg) (dns.Msg, time.Duration, error) {
	start := time.Now()

	packed, err := msg.Pack()
	if err != nil {
		return dns.Msg{}, 0, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(packed)

	reqURL := c.url.Scheme + "://" + c.url.Host + c.url.Path + "?dns=" + encoded
	ctx := httptrace.WithClientTrace(context.Background(), c.trace)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return dns.Msg{}, 0, err
	}
	req.Header.Set("Accept", "application/dns-message")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return dns.Msg{}, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dns.Msg{}, 0, err
	}

	var reply dns.Msg
	if err := reply.Unpack(body); err != nil {
		return dns.Msg{}, 0, err
	}
	return reply, time.Since(start), nil
}
