package config

import (
	"testing"
	"time"
)

func TestParseEnvDefaults(t *testing.T) {
	var s Settings
	if err := ParseEnv(&s); err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	if s.TxTimeout != 15*time.Second || s.TxMaxAttempts != 3 || s.TxRetryBackoff != 100*time.Millisecond {
		t.Fatalf("tx policy defaults = %s/%d/%s", s.TxTimeout, s.TxMaxAttempts, s.TxRetryBackoff)
	}
	if s.DefaultTaxRateBp != 1800 || s.PhoneRegion != "DO" || s.MaxCartItems != 200 {
		t.Fatalf("ledger defaults = %+v", s)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_TX_TIMEOUT", "2s")
	t.Setenv("LEDGER_MAX_CART_ITEMS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	var s Settings
	if err := ParseEnv(&s); err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	if s.TxTimeout != 2*time.Second || s.MaxCartItems != 5 || len(s.CorsAllowedOrigins) != 2 {
		t.Fatalf("overrides not applied: %+v", s)
	}
}

func TestParseEnvRejectsMalformed(t *testing.T) {
	t.Setenv("LEDGER_TX_MAX_ATTEMPTS", "three")
	var s Settings
	if err := ParseEnv(&s); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestEnvFlag(t *testing.T) {
	for v, want := range map[string]bool{"true": true, "1": true, " YES ": true, "false": false, "": false} {
		t.Setenv("STOCK_ROW_LOCKING", v)
		if got := PessimisticStockLocking(); got != want {
			t.Errorf("STOCK_ROW_LOCKING=%q -> %v, want %v", v, got, want)
		}
	}
}
