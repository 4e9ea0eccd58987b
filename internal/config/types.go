package config

import (
	"strings"
	"time"
)

// Config is the process configuration. Operator-editable run policy
// (concurrency, delay, retries, proxies) lives in settings.json instead.
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	State      StateConfig      `json:"state"`
	Engine     EngineConfig     `json:"engine"`
	HTTPClient HTTPClientConfig `json:"http_client"`
	API        APIConfig        `json:"api"`
	Telegram   TelegramConfig   `json:"telegram"`
	Schedule   ScheduleConfig   `json:"schedule"`
	ProxyProbe ProxyProbeConfig `json:"proxy_probe"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warn+ lines to telegram.group_log.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StateConfig selects where documents are stored.
//
// Example:
//
//	"state": { "driver": "file", "path": "./data" }
type StateConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"` // sqlite
}

type EngineConfig struct {
	SnapshotInterval Duration `json:"snapshot_interval,omitempty"`
	MailboxSize      int      `json:"mailbox_size,omitempty"`
	// ResumeOnStart starts Running projects right after boot.
	ResumeOnStart bool `json:"resume_on_start,omitempty"`
}

// HTTPClientConfig shapes requests to target sites.
//
// Security note: insecure_tls defaults to true because many target sites run
// self-signed or expired certificates. Set it to false to verify them.
type HTTPClientConfig struct {
	Timeout           Duration `json:"timeout,omitempty"`
	UserAgent         string   `json:"user_agent,omitempty"`
	InsecureTLS       *bool    `json:"insecure_tls,omitempty"`
	RequestsPerSecond float64  `json:"requests_per_second,omitempty"`
	Burst             int      `json:"burst,omitempty"`
}

// Insecure reports the effective insecure_tls value.
func (h HTTPClientConfig) Insecure() bool {
	return h.InsecureTLS == nil || *h.InsecureTLS
}

// APIConfig controls the HTTP control API.
//
// Prefer binding to localhost. A non-loopback addr requires a token.
type APIConfig struct {
	Enabled         bool     `json:"enabled"`
	Addr            string   `json:"addr,omitempty"`  // default: "127.0.0.1:8787"
	Token           string   `json:"token,omitempty"` // bearer token (do not log)
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool     `json:"enabled"`
	Token        string   `json:"token"`
	OwnerUserIDs []int64  `json:"owner_user_ids"`
	GroupLog     string   `json:"group_log"`
	PollTimeout  Duration `json:"poll_timeout,omitempty"`
}

// ScheduleConfig fires startCampaigns periodically.
type ScheduleConfig struct {
	Enabled  bool     `json:"enabled"`
	Spec     string   `json:"spec,omitempty"` // cron, HH:MM interval, or Go duration
	Timezone string   `json:"timezone,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`
}

type ProxyProbeConfig struct {
	Concurrency int      `json:"concurrency,omitempty"`
	Servers     int      `json:"servers,omitempty"`
	Timeout     Duration `json:"timeout,omitempty"`
}

// Default returns a config that runs with no file at all.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}
	if c.Logging.Telegram.MinLevel == "" {
		c.Logging.Telegram.MinLevel = "warn"
	}

	if strings.TrimSpace(c.State.Driver) == "" {
		c.State.Driver = "file"
	}
	if strings.TrimSpace(c.State.Path) == "" {
		if c.State.Driver == "file" {
			c.State.Path = "./data"
		} else {
			c.State.Path = "./data/linkrunner.db"
		}
	}
	if c.State.BusyTimeout <= 0 {
		c.State.BusyTimeout = Duration(5 * time.Second)
	}

	if c.Engine.SnapshotInterval <= 0 {
		c.Engine.SnapshotInterval = Duration(500 * time.Millisecond)
	}
	if c.Engine.MailboxSize <= 0 {
		c.Engine.MailboxSize = 16
	}

	if c.HTTPClient.Timeout <= 0 {
		c.HTTPClient.Timeout = Duration(30 * time.Second)
	}
	if c.HTTPClient.Burst <= 0 {
		c.HTTPClient.Burst = 1
	}

	if strings.TrimSpace(c.API.Addr) == "" {
		c.API.Addr = "127.0.0.1:8787"
	}
	if c.API.ShutdownTimeout <= 0 {
		c.API.ShutdownTimeout = Duration(5 * time.Second)
	}

	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = Duration(10 * time.Second)
	}

	if c.Schedule.Timeout <= 0 {
		c.Schedule.Timeout = Duration(30 * time.Second)
	}

	if c.ProxyProbe.Concurrency <= 0 {
		c.ProxyProbe.Concurrency = 4
	}
	if c.ProxyProbe.Servers <= 0 {
		c.ProxyProbe.Servers = 3
	}
	if c.ProxyProbe.Timeout <= 0 {
		c.ProxyProbe.Timeout = Duration(20 * time.Second)
	}
}
