package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tier != TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.Type != "memory" {
		t.Errorf("expected memory cache, got %s", cfg.Cache.Type)
	}
	if cfg.EventBus.Type != "channel" {
		t.Errorf("expected channel bus, got %s", cfg.EventBus.Type)
	}
	if len(cfg.Tenants) != 1 || cfg.Tenants[0] != DefaultTenant {
		t.Errorf("expected default tenant only, got %v", cfg.Tenants)
	}
	if cfg.Normalizer.ZeroStdPolicy != ZeroStdUnit {
		t.Errorf("expected unit zero-std policy, got %s", cfg.Normalizer.ZeroStdPolicy)
	}
	if cfg.Features.AmountThreshold != 5000 {
		t.Errorf("expected amount threshold 5000, got %v", cfg.Features.AmountThreshold)
	}
}

func TestProConfig(t *testing.T) {
	cfg := ProConfig()

	if cfg.Tier != TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.Type != "redis" || !cfg.Cache.EnableTwoPhase {
		t.Error("expected two-phase redis cache")
	}
	if cfg.EventBus.Type != "nats" {
		t.Errorf("expected nats bus, got %s", cfg.EventBus.Type)
	}
	// Feature policy is tier independent
	if cfg.Features.RegulatoryCode != DefaultConfig().Features.RegulatoryCode {
		t.Error("expected pro tier to share the feature policy")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("KESTREL_PORT", "9090")
		t.Setenv("KESTREL_TENANTS", "acme, globex ,")
		t.Setenv("KESTREL_HIGH_RISK_COUNTRIES", "KP,IR")
		t.Setenv("KESTREL_AMOUNT_THRESHOLD", "7500.5")
		t.Setenv("KESTREL_MODEL_TYPE", "logistic")
		t.Setenv("KESTREL_MODEL_PATH", "/models/weights.json")
		t.Setenv("KESTREL_NORMALIZER_PATH", "")

		cfg := DefaultConfig()
		if err := ApplyEnv(cfg); err != nil {
			t.Fatalf("ApplyEnv failed: %v", err)
		}

		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if len(cfg.Tenants) != 2 || cfg.Tenants[0] != "acme" || cfg.Tenants[1] != "globex" {
			t.Errorf("expected [acme globex], got %v", cfg.Tenants)
		}
		if len(cfg.Features.HighRiskCountries) != 2 || cfg.Features.HighRiskCountries[0] != "KP" {
			t.Errorf("expected [KP IR], got %v", cfg.Features.HighRiskCountries)
		}
		if cfg.Features.AmountThreshold != 7500.5 {
			t.Errorf("expected threshold 7500.5, got %v", cfg.Features.AmountThreshold)
		}
		if cfg.Model.Type != "logistic" || cfg.Model.Path != "/models/weights.json" {
			t.Errorf("expected logistic model at /models/weights.json, got %s at %s", cfg.Model.Type, cfg.Model.Path)
		}
		// An explicitly empty path disables the artifact file
		if cfg.Normalizer.Path != "" {
			t.Errorf("expected empty normalizer path, got %s", cfg.Normalizer.Path)
		}
	})

	t.Run("InvalidPort", func(t *testing.T) {
		t.Setenv("KESTREL_PORT", "http")
		if err := ApplyEnv(DefaultConfig()); err == nil {
			t.Error("expected error for non-numeric port")
		}
	})

	t.Run("InvalidThreshold", func(t *testing.T) {
		t.Setenv("KESTREL_AMOUNT_THRESHOLD", "five thousand")
		if err := ApplyEnv(DefaultConfig()); err == nil {
			t.Error("expected error for non-numeric threshold")
		}
	})
}

func TestIsClientError(t *testing.T) {
	client := []error{
		ErrUnsupportedEncoding,
		fmt.Errorf("%w: missing amount", ErrMalformedMessage),
		fmt.Errorf("record 3: %w", ErrInvalidAmount),
		ErrShapeMismatch,
		ErrDegenerateColumn,
		ErrOutOfRangeProbability,
	}
	for _, err := range client {
		if !IsClientError(err) {
			t.Errorf("expected %v to be a client error", err)
		}
	}

	server := []error{
		ErrInvalidModelOutput,
		ErrNotFound,
		errors.New("connection refused"),
	}
	for _, err := range server {
		if IsClientError(err) {
			t.Errorf("expected %v not to be a client error", err)
		}
	}
}

func TestTenantContext(t *testing.T) {
	ctx := context.Background()
	if got := TenantFromContext(ctx); got != DefaultTenant {
		t.Errorf("expected %s, got %s", DefaultTenant, got)
	}
	if got := TenantFromContext(WithTenant(ctx, "acme")); got != "acme" {
		t.Errorf("expected acme, got %s", got)
	}
	if got := TenantFromContext(WithTenant(ctx, "")); got != DefaultTenant {
		t.Errorf("expected %s for empty tenant, got %s", DefaultTenant, got)
	}
}
