package config

import (
	"bytes"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != 8080 {
		t.Fatalf("got port %d, want 8080", cfg.ServerPort)
	}
	if cfg.StorageCleanupIntervalMins != 15 {
		t.Fatalf("got cleanup interval %d, want 15", cfg.StorageCleanupIntervalMins)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{
		"-server-port", "9999",
		"-admin-master-key", "secret",
		"-turn-url", "turn:a.example.com",
		"-turn-url", "turn:b.example.com",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != 9999 {
		t.Fatalf("got port %d, want 9999", cfg.ServerPort)
	}
	if cfg.AdminMasterKey != "secret" {
		t.Fatalf("got admin key %q", cfg.AdminMasterKey)
	}
	if len(cfg.TURNURLs) != 2 {
		t.Fatalf("got turn urls %v, want 2 entries", cfg.TURNURLs)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.StorageMaxMessageAgeHours = 2
	cfg.StorageCleanupIntervalMins = 30
	cfg.TURNTTLSeconds = 60

	if cfg.MaxMessageAge().Hours() != 2 {
		t.Fatalf("got %v", cfg.MaxMessageAge())
	}
	if cfg.CleanupInterval().Minutes() != 30 {
		t.Fatalf("got %v", cfg.CleanupInterval())
	}
	if cfg.TURNTTL().Seconds() != 60 {
		t.Fatalf("got %v", cfg.TURNTTL())
	}
}
