package config

import (
	"os"
	"testing"
)

func TestLoadDefaultsFailValidationWithoutListenerOrSocks5(t *testing.T) {
	_, _, err := Load("")
	if err == nil {
		t.Fatalf("expected validation error from bare defaults (no listener, no socks5.addr)")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sniproxy.yaml"
	yamlContent := `
server:
  listen_https_addr: "0.0.0.0:443"
socks5:
  addr: "127.0.0.1:1080"
rules:
  allow:
    - "*.example.com"
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenHTTPSAddr != "0.0.0.0:443" {
		t.Fatalf("got %q, want 0.0.0.0:443", cfg.Server.ListenHTTPSAddr)
	}
	if cfg.Socks5.Addr != "127.0.0.1:1080" {
		t.Fatalf("got %q, want 127.0.0.1:1080", cfg.Socks5.Addr)
	}
	if len(cfg.Rules.Allow) != 1 || cfg.Rules.Allow[0] != "*.example.com" {
		t.Fatalf("got %v, want one *.example.com pattern", cfg.Rules.Allow)
	}
	// defaults not touched by the override file survive.
	if cfg.Server.LogLevel != "info" {
		t.Fatalf("got log level %q, want default info", cfg.Server.LogLevel)
	}
}

func TestLoadEnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sniproxy.yaml"
	if err := os.WriteFile(path, []byte("server:\n  listen_https_addr: \"0.0.0.0:443\"\nsocks5:\n  addr: \"127.0.0.1:1080\"\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	t.Setenv("SNIPROXY_SOCKS5__ADDR", "10.0.0.1:1080")
	t.Setenv("SNIPROXY_SERVER__LOG_LEVEL", "debug")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Socks5.Addr != "10.0.0.1:1080" {
		t.Fatalf("got %q, want env override 10.0.0.1:1080", cfg.Socks5.Addr)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Fatalf("got %q, want env override debug", cfg.Server.LogLevel)
	}
}

func TestValidateRequiresSocks5Addr(t *testing.T) {
	cfg := &Config{Server: Server{ListenHTTPAddr: "0.0.0.0:80"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error when socks5.addr is empty")
	}
}

func TestValidateRequiresAtLeastOneListener(t *testing.T) {
	cfg := &Config{Socks5: Socks5{Addr: "127.0.0.1:1080"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error when no listener address is set")
	}
}
