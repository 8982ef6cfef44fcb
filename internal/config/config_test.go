package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.BillingGraceDays != 7 {
		t.Errorf("expected 7 day grace period, got %d", cfg.BillingGraceDays)
	}
	if cfg.StaleInitiatedTTL != 3*time.Minute {
		t.Errorf("expected 3m stale-initiated TTL, got %s", cfg.StaleInitiatedTTL)
	}
	if cfg.StaleRingingTTL != 2*time.Minute {
		t.Errorf("expected 2m stale-ringing TTL, got %s", cfg.StaleRingingTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BILLING_GRACE_DAYS", "14")
	t.Setenv("STALE_INITIATED_TTL", "90s")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.callhelm.com, https://admin.callhelm.com")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Port)
	}
	if cfg.BillingGraceDays != 14 {
		t.Errorf("expected grace override 14, got %d", cfg.BillingGraceDays)
	}
	if cfg.StaleInitiatedTTL != 90*time.Second {
		t.Errorf("expected 90s TTL, got %s", cfg.StaleInitiatedTTL)
	}
	if !cfg.RedisTLS {
		t.Error("expected redis TLS enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.callhelm.com" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestGetEnvAsIntIgnoresGarbage(t *testing.T) {
	t.Setenv("CALL_UNIT_COST_CENTS", "not-a-number")
	cfg := Load()
	if cfg.CallUnitCostCents != 2 {
		t.Errorf("expected fallback unit cost 2, got %d", cfg.CallUnitCostCents)
	}
}
