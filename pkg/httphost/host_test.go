package httphost

import "testing"

func TestExtractSimple(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: api.example.com:8080\r\nUser-Agent: x\r\n\r\n")
	host, err := Extract(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "api.example.com" {
		t.Fatalf("got %q, want api.example.com", host)
	}
}

func TestExtractCaseInsensitiveHeaderName(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nhost: Example.COM\r\n\r\n")
	host, err := Extract(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "example.com" {
		t.Fatalf("got %q, want example.com", host)
	}
}

func TestExtractBareLF(t *testing.T) {
	req := []byte("GET / HTTP/1.1\nHost: example.org\n\n")
	host, err := Extract(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "example.org" {
		t.Fatalf("got %q, want example.org", host)
	}
}

func TestExtractAbsoluteURIPreferred(t *testing.T) {
	req := []byte("GET http://real.example.com/path HTTP/1.1\r\nHost: decoy.example.com\r\n\r\n")
	host, err := Extract(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "real.example.com" {
		t.Fatalf("got %q, want real.example.com", host)
	}
}

func TestExtractNoHost(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nUser-Agent: x\r\n\r\n")
	_, err := Extract(req)
	if err != ErrHostNotFound {
		t.Fatalf("expected ErrHostNotFound, got %v", err)
	}
}

func TestExtractTruncated(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n")
	_, err := Extract(req)
	if err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestExtractInvalidHost(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: not a host!!\r\n\r\n")
	_, err := Extract(req)
	if err == nil {
		t.Fatalf("expected error for invalid host")
	}
}
