package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uniset-viewer.xml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != 8099 {
		t.Errorf("Default port wrong: %d", cfg.Server.Port)
	}
	if cfg.Transport.BaseDelayMs != 500 || cfg.Transport.MaxReconnectAttempts != 10 {
		t.Errorf("Default transport config wrong: %+v", cfg.Transport)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Default config file not written: %v", err)
	}

	// Loading again parses the file just written.
	cfg2, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg2.Charts.TimeRangeSeconds != cfg.Charts.TimeRangeSeconds {
		t.Errorf("Roundtrip mismatch: %d vs %d", cfg2.Charts.TimeRangeSeconds, cfg.Charts.TimeRangeSeconds)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uniset-viewer.xml")
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("Initial load failed: %v", err)
	}

	t.Setenv("PORT", "9100")
	t.Setenv("AGGREGATOR_URL", "http://sm-host:8081")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("PORT override ignored: %d", cfg.Server.Port)
	}
	if cfg.Upstream.AggregatorURL != "http://sm-host:8081" {
		t.Errorf("AGGREGATOR_URL override ignored: %s", cfg.Upstream.AggregatorURL)
	}
}

func TestLoadConfigResolvesServersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uniset-viewer.xml")
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("Initial load failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !filepath.IsAbs(cfg.Upstream.ServersFile) {
		t.Errorf("ServersFile not resolved to absolute: %s", cfg.Upstream.ServersFile)
	}
	if filepath.Dir(cfg.Upstream.ServersFile) != dir {
		t.Errorf("ServersFile resolved outside config dir: %s", cfg.Upstream.ServersFile)
	}
}

func TestParseServers(t *testing.T) {
	data := []byte(`
servers:
  - id: local
    name: Local SM
    url: http://localhost:8080
  - id: remote
    url: http://remote:8080
`)
	servers, err := ParseServers(data)
	if err != nil {
		t.Fatalf("ParseServers failed: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("Expected 2 servers, got %d", len(servers))
	}
	if servers[0].Name != "Local SM" {
		t.Errorf("Wrong name: %s", servers[0].Name)
	}
	// A missing name falls back to the id.
	if servers[1].Name != "remote" {
		t.Errorf("Name not defaulted to id: %s", servers[1].Name)
	}
}

func TestParseServersValidation(t *testing.T) {
	if _, err := ParseServers([]byte("servers:\n  - url: http://x\n")); err == nil {
		t.Error("Missing id accepted")
	}
	dup := []byte(`
servers:
  - id: local
    url: http://a
  - id: local
    url: http://b
`)
	if _, err := ParseServers(dup); err == nil {
		t.Error("Duplicate id accepted")
	}
	if _, err := ParseServers([]byte("{not yaml")); err == nil {
		t.Error("Malformed YAML accepted")
	}
}
