package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults: standalone storage,
// builtin content catalog, all channels off until a credential appears.
func Default() *Config {
	return &Config{
		Tenant: "default",
		Engine: EngineConfig{
			FanOutTimeoutSec:    12,
			SessionTTLHours:     24,
			MaxReplyChars:       500,
			ConfidenceThreshold: 0.7,
			DrainTimeoutSec:     15,
		},
		Decision: DecisionConfig{
			TimeoutSec: 10,
		},
		Guards: GuardsConfig{
			OpenHour:  9,
			CloseHour: 18,
			Days:      "Monday to Friday",
		},
		Content: ContentConfig{
			ReloadTTLMin:  5,
			WatchForEdits: true,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.convocore/convocore.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "convocore",
		},
		Sweeper: SweeperConfig{
			Schedule: "*/10 * * * *",
		},
	}
}

// Load reads config from a json5 file, then overlays env vars. A missing
// file is not an error; the defaults plus env are a complete configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
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
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CONVOCORE_TENANT", &c.Tenant)

	// Decision service
	envStr("CONVOCORE_DECISION_URL", &c.Decision.URL)
	envStr("CONVOCORE_DECISION_API_KEY", &c.Decision.APIKey)
	if v := os.Getenv("CONVOCORE_DECISION_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Decision.TimeoutSec = sec
		}
	}

	// Channel secrets come from env only.
	envStr("CONVOCORE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("CONVOCORE_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("CONVOCORE_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)

	// Auto-enable channels when credentials are provided via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	// Database
	envStr("CONVOCORE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CONVOCORE_MODE", &c.Database.Mode)
	envStr("CONVOCORE_SQLITE_PATH", &c.Database.SQLitePath)
	if c.Database.PostgresDSN != "" && os.Getenv("CONVOCORE_MODE") == "" {
		c.Database.Mode = "managed"
	}

	// Content
	envStr("CONVOCORE_CONTENT_DIR", &c.Content.Dir)

	// Metrics
	envStr("CONVOCORE_METRICS_ADDR", &c.Metrics.Addr)
	if v := os.Getenv("CONVOCORE_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true" || v == "1"
	}

	// Telemetry
	envStr("CONVOCORE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CONVOCORE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CONVOCORE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Engine knobs
	if v := os.Getenv("CONVOCORE_FANOUT_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Engine.FanOutTimeoutSec = sec
		}
	}
	if v := os.Getenv("CONVOCORE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Engine.ConfidenceThreshold = f
		}
	}

	envStr("CONVOCORE_SWEEPER_SCHEDULE", &c.Sweeper.Schedule)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
