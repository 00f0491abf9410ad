package config

import (
	"fmt"
	"sync"
	"time"
)

// Config is the root configuration for the callbridge service.
type Config struct {
	Dialer    DialerConfig    `json:"dialer"`
	AgentLink AgentLinkConfig `json:"agent_link"`
	Messaging MessagingConfig `json:"messaging"`
	Bridge    BridgeConfig    `json:"bridge"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// DialerConfig points at the outbound-call campaign platform.
type DialerConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"` // from env CALLBRIDGE_DIALER_API_KEY only

	// PollInterval is the fixed period between batch status checks.
	PollInterval Duration `json:"poll_interval,omitempty"`
	// CompletedWindow keeps recently completed batches in the poll set so
	// recipients that finished just before a restart are still observed.
	CompletedWindow Duration `json:"completed_window,omitempty"`
}

// AgentLinkConfig points at the conversational-agent session platform.
type AgentLinkConfig struct {
	WSBaseURL string `json:"ws_base_url"`
	APIKey    string `json:"-"` // from env CALLBRIDGE_AGENT_API_KEY only

	// DefaultAgentID handles inbound messages with no prior conversation record.
	DefaultAgentID string `json:"default_agent_id"`

	OpenTimeout  Duration `json:"open_timeout,omitempty"`
	ReplyTimeout Duration `json:"reply_timeout,omitempty"`
	IdleTTL      Duration `json:"idle_ttl,omitempty"`
	IdleSweep    Duration `json:"idle_sweep,omitempty"`
}

// MessagingConfig points at the text-messaging gateway.
type MessagingConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"` // from env CALLBRIDGE_MESSAGING_API_KEY only
	Sender  string `json:"sender,omitempty"`

	// WebhookAddr is the listen address for the inbound-message webhook.
	WebhookAddr string `json:"webhook_addr,omitempty"`
	// WebhookSecret guards the webhook endpoint. Env only.
	WebhookSecret string `json:"-"` // from env CALLBRIDGE_WEBHOOK_SECRET
	// RateLimitRPM caps outbound gateway sends per minute (0 = unlimited).
	RateLimitRPM int `json:"rate_limit_rpm,omitempty"`
}

// BridgeConfig holds tunables for the bridging flows.
type BridgeConfig struct {
	// Template composes the first message sent after a call ends.
	// Placeholders: {name}, {summary}.
	Template string `json:"template,omitempty"`
	// Apology is sent when the agent cannot produce a reply.
	Apology string `json:"apology,omitempty"`

	// ReopenDelay is the pause between closing a session and reopening it.
	// Reopening too fast races with platform-side teardown.
	ReopenDelay Duration `json:"reopen_delay,omitempty"`
	// WelcomeDiscard is how long to wait before draining the platform's
	// unsolicited session-open output. Heuristic, not a guarantee: slow
	// networks may deliver the welcome later. Tune per deployment.
	WelcomeDiscard Duration `json:"welcome_discard,omitempty"`

	// DedupMaxAge bounds how long a bridged-call record is remembered.
	DedupMaxAge Duration `json:"dedup_max_age,omitempty"`
	// DedupSweepCron schedules the registry sweep (gronx expression).
	DedupSweepCron string `json:"dedup_sweep_cron,omitempty"`
}

// DatabaseConfig selects the conversation store backend.
// PostgresDSN is never read from config.json, only from env
// CALLBRIDGE_POSTGRES_DSN. When unset the service falls back to SQLite.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Protocol string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	Insecure bool   `json:"insecure,omitempty"`
}

// Duration is a time.Duration that unmarshals from "30s"-style JSON strings.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return fmt.Errorf("parse duration %s: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	// Bare numbers are seconds.
	var secs float64
	if _, err := fmt.Sscanf(s, "%f", &secs); err != nil {
		return fmt.Errorf("parse duration %s: %w", s, err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// Or returns the duration, or fallback when unset.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return time.Duration(d)
}

// Validate checks that required fields for the bridge service are present.
func (c *Config) Validate() error {
	if c.Dialer.BaseURL == "" {
		return fmt.Errorf("dialer.base_url is required")
	}
	if c.AgentLink.WSBaseURL == "" {
		return fmt.Errorf("agent_link.ws_base_url is required")
	}
	if c.AgentLink.DefaultAgentID == "" {
		return fmt.Errorf("agent_link.default_agent_id is required")
	}
	if c.Messaging.BaseURL == "" {
		return fmt.Errorf("messaging.base_url is required")
	}
	return nil
}

// Snapshot returns a copy of the hot-reloadable bridge tunables.
func (c *Config) Snapshot() BridgeConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bridge
}

// SetBridge swaps the bridge tunables (used by the config watcher).
func (c *Config) SetBridge(b BridgeConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bridge = b
}
