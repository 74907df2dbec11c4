package config_test

import (
	"testing"
	"time"

	"github.com/atlas/equities-core/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BrokerHost != "localhost" {
		t.Fatalf("expected default broker_host localhost, got %q", cfg.BrokerHost)
	}
	if cfg.HeartbeatInterval() != 30*time.Second {
		t.Fatalf("expected default heartbeat interval 30s, got %s", cfg.HeartbeatInterval())
	}
	if cfg.ExchangeTZ != "America/New_York" {
		t.Fatalf("expected default exchange_tz America/New_York, got %q", cfg.ExchangeTZ)
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("BROKER_HOST", "broker.internal")
	t.Setenv("BROKER_PORT", "4001")
	t.Setenv("CRASH_THRESHOLD_SEC", "60")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BrokerHost != "broker.internal" {
		t.Fatalf("expected env override broker.internal, got %q", cfg.BrokerHost)
	}
	if cfg.BrokerPort != 4001 {
		t.Fatalf("expected env override port 4001, got %d", cfg.BrokerPort)
	}
	if cfg.CrashThreshold() != 60*time.Second {
		t.Fatalf("expected crash threshold 60s, got %s", cfg.CrashThreshold())
	}
}

