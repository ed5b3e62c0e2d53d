// Package config holds the runtime configuration: a json5 file overlaid
// with CONVOCORE_* environment variables. Secrets (tokens, DSNs) come from
// the environment only and never persist in the config file.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Tenant   string         `json:"tenant"`
	Engine   EngineConfig   `json:"engine"`
	Decision DecisionConfig `json:"decision"`
	Guards   GuardsConfig   `json:"guards"`
	Content  ContentConfig  `json:"content"`
	Channels ChannelsConfig `json:"channels"`
	Database DatabaseConfig `json:"database"`
	Metrics  MetricsConfig  `json:"metrics"`

	Telemetry TelemetryConfig `json:"telemetry"`
	Sweeper   SweeperConfig   `json:"sweeper"`
}

// EngineConfig bounds the decision pipeline.
type EngineConfig struct {
	FanOutTimeoutSec    int     `json:"fanout_timeout_sec"`
	SessionTTLHours     int     `json:"session_ttl_hours"`
	MaxReplyChars       int     `json:"max_reply_chars"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	DrainTimeoutSec     int     `json:"drain_timeout_sec"`
}

func (e EngineConfig) FanOutTimeout() time.Duration {
	return time.Duration(e.FanOutTimeoutSec) * time.Second
}

func (e EngineConfig) SessionTTL() time.Duration {
	return time.Duration(e.SessionTTLHours) * time.Hour
}

func (e EngineConfig) DrainTimeout() time.Duration {
	return time.Duration(e.DrainTimeoutSec) * time.Second
}

// DecisionConfig locates the remote decision/extraction service. The API
// key comes from env only.
type DecisionConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"-"`
	TimeoutSec int    `json:"timeout_sec"`
}

func (d DecisionConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec) * time.Second
}

// GuardsConfig parameterizes the deterministic reply guards.
type GuardsConfig struct {
	OpenHour  int    `json:"open_hour"`
	CloseHour int    `json:"close_hour"`
	Days      string `json:"days"`
}

// ContentConfig locates the track/question catalog.
type ContentConfig struct {
	Dir           string `json:"dir"`
	ReloadTTLMin  int    `json:"reload_ttl_min"`
	WatchForEdits bool   `json:"watch_for_edits"`
}

func (c ContentConfig) ReloadTTL() time.Duration {
	return time.Duration(c.ReloadTTLMin) * time.Minute
}

// ChannelsConfig carries per-channel credentials. Tokens come from env.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"`
}

type WhatsAppConfig struct {
	Enabled   bool   `json:"enabled"`
	BridgeURL string `json:"bridge_url"`
}

// DatabaseConfig selects the storage mode: "managed" (Postgres) or
// "standalone" (embedded SQLite).
type DatabaseConfig struct {
	Mode        string `json:"mode"`
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// TelemetryConfig configures the OTLP trace exporter. An empty endpoint
// disables export.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// SweeperConfig schedules TTL reaping on the SQL backends.
type SweeperConfig struct {
	Schedule string `json:"schedule"` // cron expression
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Mode {
	case "managed":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database mode managed requires CONVOCORE_POSTGRES_DSN")
		}
	case "standalone":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database mode standalone requires sqlite_path")
		}
	default:
		return fmt.Errorf("unknown database mode %q", c.Database.Mode)
	}
	if c.Guards.OpenHour < 0 || c.Guards.CloseHour > 24 || c.Guards.OpenHour >= c.Guards.CloseHour {
		return fmt.Errorf("guards: open_hour %d / close_hour %d out of range", c.Guards.OpenHour, c.Guards.CloseHour)
	}
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine: confidence_threshold %v outside [0,1]", c.Engine.ConfidenceThreshold)
	}
	if c.Decision.URL == "" {
		return fmt.Errorf("decision: url is required (set decision.url or CONVOCORE_DECISION_URL)")
	}
	return nil
}
