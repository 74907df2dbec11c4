// Package config binds the environment-variable configuration contract
// (spec §6) to a typed Config struct: one struct bound via
// viper.BindEnv, instead of scattered getEnvOrDefault(os.Getenv(...))
// calls.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of environment-bound settings spec §6 names.
type Config struct {
	BrokerHost     string `mapstructure:"broker_host"`
	BrokerPort     int    `mapstructure:"broker_port"`
	BrokerClientID string `mapstructure:"broker_client_id"`
	BrokerMode     string `mapstructure:"broker_mode"` // "paper" or "live"

	MarketDataAPIKey string `mapstructure:"market_data_api_key"`

	DatabaseURL string `mapstructure:"database_url"`

	EmailFrom string `mapstructure:"email_from"`
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	SMTPUser  string `mapstructure:"smtp_user"`
	SMTPPass  string `mapstructure:"smtp_password"`
	AlertTo   string `mapstructure:"alert_email_to"` // comma-separated

	ExchangeTZ string `mapstructure:"exchange_tz"`

	HeartbeatIntervalSec int `mapstructure:"heartbeat_interval_sec"`
	CrashThresholdSec    int `mapstructure:"crash_threshold_sec"`

	OpsHost string `mapstructure:"ops_host"`
	OpsPort int    `mapstructure:"ops_port"`

	LogLevel string `mapstructure:"log_level"`

	// AutoResumeOnSessionStart gates whether runSessionStartReset flips a
	// loss-limit-paused strategy back to ACTIVE at session start (spec §4.7
	// scenario S4). When false (the default), a paused strategy stays PAUSED
	// across the session boundary and only its consecutive-loss counter
	// resets; an operator must resume it explicitly.
	AutoResumeOnSessionStart bool `mapstructure:"auto_resume_on_session_start"`
}

// HeartbeatInterval is HeartbeatIntervalSec as a time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// CrashThreshold is CrashThresholdSec as a time.Duration — the staleness
// window the Reconciler's DetectCrash compares the last heartbeat against.
func (c Config) CrashThreshold() time.Duration {
	return time.Duration(c.CrashThresholdSec) * time.Second
}

var defaults = map[string]interface{}{
	"broker_host":                  "localhost",
	"broker_port":                  7497,
	"broker_client_id":             "atlasd",
	"broker_mode":                  "paper",
	"market_data_api_key":          "",
	"database_url":                 "file:atlasd.db",
	"email_from":                   "",
	"smtp_host":                    "",
	"smtp_port":                    587,
	"smtp_user":                    "",
	"smtp_password":                "",
	"alert_email_to":               "",
	"exchange_tz":                  "America/New_York",
	"heartbeat_interval_sec":       30,
	"crash_threshold_sec":          300,
	"ops_host":                     "0.0.0.0",
	"ops_port":                     9090,
	"log_level":                    "info",
	"auto_resume_on_session_start": false,
}

var envKeys = []string{
	"broker_host", "broker_port", "broker_client_id", "broker_mode",
	"market_data_api_key", "database_url",
	"email_from", "smtp_host", "smtp_port", "smtp_user", "smtp_password", "alert_email_to",
	"exchange_tz", "heartbeat_interval_sec", "crash_threshold_sec",
	"ops_host", "ops_port", "log_level", "auto_resume_on_session_start",
}

// Load reads the process environment (keys upper-cased, e.g. BROKER_HOST)
// into a Config, applying spec-named defaults for anything unset.
func Load() (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
