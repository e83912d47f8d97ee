package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DHAN_CLIENT_ID", "1000000001")
	t.Setenv("DHAN_API_KEY", "tok")

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultSymbol != "RELIANCE" || cfg.RelayAddr != ":8000" || cfg.SQLitePath != "data/symbols.db" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.LookupTimeout != 5*time.Second || cfg.StaleAfter != 720*time.Hour || cfg.HistoricalCacheTTL != time.Hour {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.RedisAddr != "" || cfg.UseTOTP() {
		t.Fatal("redis and TOTP should be off by default")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DHAN_CLIENT_ID", "1")
	t.Setenv("DHAN_PIN", "1234")
	t.Setenv("DHAN_TOTP_SECRET", "JBSWY3DPEHPK3PXP")
	t.Setenv("DEFAULT_SYMBOL", "tcs")
	t.Setenv("LOOKUP_TIMEOUT", "2s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("IGNORE_HOLIDAYS", "true")
	t.Setenv("SWEEP_INTERVAL", "soon")

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if !cfg.UseTOTP() || cfg.DefaultSymbol != "TCS" || cfg.LookupTimeout != 2*time.Second {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.RedisDB != 3 || !cfg.IgnoreHolidays {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.SweepInterval != 24*time.Hour {
		t.Fatalf("invalid duration should fall back, got %s", cfg.SweepInterval)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{DhanPIN: "1234", LookupTimeout: time.Second}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"DHAN_CLIENT_ID", "DHAN_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}
