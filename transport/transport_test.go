package transport

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"sensors/temp", "sensors/temp", true},
		{"sensors/temp", "sensors/hum", false},
		{"sensors/*", "sensors/temp", true},
		{"sensors/*", "sensors", false},
		{"sensors/*", "sensors/a/b", false},
		{"sensors/**", "sensors", true},
		{"sensors/**", "sensors/a/b/c", true},
		{"**", "anything/at/all", true},
		{"a/**/z", "a/z", true},
		{"a/**/z", "a/b/c/z", true},
		{"a/**/z", "a/b/c/y", false},
		{"*/temp", "room1/temp", true},
		{"*/temp", "room1/hum", false},
	}
	for _, tt := range tests {
		if got := Match(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	for _, p := range []string{"a", "a/b", "a/*", "**", "a/**/b"} {
		if err := ValidatePattern(p); err != nil {
			t.Errorf("ValidatePattern(%q): unexpected %v", p, err)
		}
	}
	for _, p := range []string{"", "a//b", "/a", "a/", "a/b*", "a/***"} {
		if err := ValidatePattern(p); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidatePattern(%q): expected ErrInvalidTopic, got %v", p, err)
		}
	}
	if err := ValidateTopic("a/*"); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("ValidateTopic with wildcard: expected ErrInvalidTopic, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TOPICBRIDGE_DRIVER", "redis")
	t.Setenv("TOPICBRIDGE_ADDR", "cache:6379")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.Driver != DriverRedis || cfg.Addr != "cache:6379" || cfg.QueueSize != DefaultQueueSize {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "transport.yaml")
	body := "driver: NATS\naddr: nats://broker:4222\nnats:\n  name: edge-7\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Driver != DriverNATS || cfg.Addr != "nats://broker:4222" || cfg.NATS.Name != "edge-7" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.NATS.MaxReconnects != -1 {
		t.Fatalf("expected env default max_reconnects=-1, got %d", cfg.NATS.MaxReconnects)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("driver: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}
