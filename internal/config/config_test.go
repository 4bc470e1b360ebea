package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != defaultAddress {
		t.Fatalf("expected default address, got %q", cfg.Address)
	}
	if cfg.DefaultTTL != defaultTTL {
		t.Fatalf("expected default ttl, got %v", cfg.DefaultTTL)
	}
	if cfg.SweepInterval != defaultSweepInterval {
		t.Fatalf("expected default sweep interval, got %v", cfg.SweepInterval)
	}
	if cfg.MaxFileSize != defaultMaxFileSize {
		t.Fatalf("expected default max file size, got %d", cfg.MaxFileSize)
	}
	if len(cfg.AuthSecret) == 0 {
		t.Fatalf("expected a generated auth secret")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LINKVAULT_ADDRESS", ":9090")
	t.Setenv("LINKVAULT_DEFAULT_TTL", "30m")
	t.Setenv("LINKVAULT_SWEEP_INTERVAL", "5m")
	t.Setenv("LINKVAULT_MAX_FILE_BYTES", "1024")
	t.Setenv("LINKVAULT_DEV_MODE", "true")
	t.Setenv("LINKVAULT_AUTH_SECRET", "sekrit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":9090" {
		t.Fatalf("address override ignored: %q", cfg.Address)
	}
	if cfg.DefaultTTL != 30*time.Minute {
		t.Fatalf("ttl override ignored: %v", cfg.DefaultTTL)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("sweep override ignored: %v", cfg.SweepInterval)
	}
	if cfg.MaxFileSize != 1024 {
		t.Fatalf("size override ignored: %d", cfg.MaxFileSize)
	}
	if !cfg.DevMode {
		t.Fatalf("dev mode override ignored")
	}
	if string(cfg.AuthSecret) != "sekrit" {
		t.Fatalf("auth secret override ignored")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("LINKVAULT_DEFAULT_TTL", "not-a-duration")
	t.Setenv("LINKVAULT_MAX_FILE_BYTES", "-5")
	t.Setenv("LINKVAULT_DEV_MODE", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultTTL != defaultTTL {
		t.Fatalf("expected ttl fallback, got %v", cfg.DefaultTTL)
	}
	if cfg.MaxFileSize != defaultMaxFileSize {
		t.Fatalf("expected size fallback, got %d", cfg.MaxFileSize)
	}
	if cfg.DevMode {
		t.Fatalf("expected dev mode fallback to false")
	}
}
