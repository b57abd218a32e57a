package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.Mode != ModeLive || !cfg.Livemode() {
		t.Fatalf("expected live mode, got %q", cfg.Mode)
	}
	if cfg.Ledger.ClawbackWindow != 30*24*time.Hour {
		t.Fatalf("expected 30 day clawback window, got %s", cfg.Ledger.ClawbackWindow)
	}
	if got := cfg.DefaultCommissionRate().String(); got != "0.2" {
		t.Fatalf("expected default rate 0.2, got %s", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PARTNERLEDGER_MODE", "test")
	t.Setenv("PARTNERLEDGER_LEDGER_EARN_HOLD", "24h")
	t.Setenv("PARTNERLEDGER_PAYOUT_CHANNEL", "manual")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Livemode() {
		t.Fatalf("expected test mode")
	}
	if cfg.Ledger.EarnHold != 24*time.Hour {
		t.Fatalf("expected earn hold 24h, got %s", cfg.Ledger.EarnHold)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partnerledger.yaml")
	body := []byte("http_addr: \":9090\"\nledger:\n  default_rate: \"0.10\"\n  payout_calendar: true\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.HTTPAddr)
	}
	if !cfg.Ledger.PayoutCalendar {
		t.Fatalf("expected payout calendar enabled")
	}
	if got := cfg.DefaultCommissionRate().String(); got != "0.1" {
		t.Fatalf("expected 0.1, got %s", got)
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	t.Setenv("PARTNERLEDGER_MODE", "sandbox")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected invalid mode to be rejected")
	}
}

func TestLoadRejectsHTTPChannelWithoutEndpoint(t *testing.T) {
	t.Setenv("PARTNERLEDGER_PAYOUT_CHANNEL", "http")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected missing endpoint to be rejected")
	}
}
