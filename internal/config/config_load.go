package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Dialer: DialerConfig{
			PollInterval:    Duration(15 * time.Second),
			CompletedWindow: Duration(24 * time.Hour),
		},
		AgentLink: AgentLinkConfig{
			OpenTimeout:  Duration(10 * time.Second),
			ReplyTimeout: Duration(30 * time.Second),
			IdleTTL:      Duration(30 * time.Minute),
			IdleSweep:    Duration(5 * time.Minute),
		},
		Messaging: MessagingConfig{
			WebhookAddr:  "0.0.0.0:18620",
			RateLimitRPM: 60,
		},
		Bridge: BridgeConfig{
			Template: "Hi {name}, thanks for taking our call! {summary}" +
				"Feel free to reply here if you have any questions.",
			Apology: "Sorry, we couldn't process your message right now. " +
				"Please try again in a few minutes.",
			ReopenDelay:    Duration(500 * time.Millisecond),
			WelcomeDiscard: Duration(2 * time.Second),
			DedupMaxAge:    Duration(7 * 24 * time.Hour),
			DedupSweepCron: "0 3 * * *",
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.callbridge/callbridge.db",
		},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Secrets only live here; env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CALLBRIDGE_DIALER_API_KEY", &c.Dialer.APIKey)
	envStr("CALLBRIDGE_DIALER_URL", &c.Dialer.BaseURL)
	envStr("CALLBRIDGE_AGENT_API_KEY", &c.AgentLink.APIKey)
	envStr("CALLBRIDGE_AGENT_WS_URL", &c.AgentLink.WSBaseURL)
	envStr("CALLBRIDGE_DEFAULT_AGENT_ID", &c.AgentLink.DefaultAgentID)
	envStr("CALLBRIDGE_MESSAGING_API_KEY", &c.Messaging.APIKey)
	envStr("CALLBRIDGE_MESSAGING_URL", &c.Messaging.BaseURL)
	envStr("CALLBRIDGE_WEBHOOK_SECRET", &c.Messaging.WebhookSecret)
	envStr("CALLBRIDGE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CALLBRIDGE_WEBHOOK_ADDR", &c.Messaging.WebhookAddr)

	if v := os.Getenv("CALLBRIDGE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Dialer.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("CALLBRIDGE_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Messaging.RateLimitRPM = n
		}
	}
}

// ExpandHome expands a leading ~ in a path to the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
