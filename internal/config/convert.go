package config

import (
	"strconv"
	"strings"

	"linkrunner/internal/engine"
	"linkrunner/internal/proxy"
	"linkrunner/internal/schedule"
	"linkrunner/internal/storage"
	"linkrunner/internal/wpapi"
	logx "linkrunner/pkg/logx"
)

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.State.Driver)),
		Path:        strings.TrimSpace(c.State.Path),
		BusyTimeout: c.State.BusyTimeout.Std(),
	}
}

func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		SnapshotInterval: c.Engine.SnapshotInterval.Std(),
		MailboxSize:      c.Engine.MailboxSize,
		ResumeOnStart:    c.Engine.ResumeOnStart,
	}
}

func (c *Config) ClientOptions() wpapi.Options {
	return wpapi.Options{
		Timeout:           c.HTTPClient.Timeout.Std(),
		UserAgent:         c.HTTPClient.UserAgent,
		InsecureTLS:       c.HTTPClient.Insecure(),
		RequestsPerSecond: c.HTTPClient.RequestsPerSecond,
		Burst:             c.HTTPClient.Burst,
	}
}

func (c *Config) ScheduleConfig() schedule.Config {
	return schedule.Config{
		Enabled:  c.Schedule.Enabled,
		Spec:     c.Schedule.Spec,
		Timezone: c.Schedule.Timezone,
		Timeout:  c.Schedule.Timeout.Std(),
	}
}

func (c *Config) ProbeConfig() proxy.SpeedtestConfig {
	return proxy.SpeedtestConfig{
		ServerCount: c.ProxyProbe.Servers,
		Timeout:     c.ProxyProbe.Timeout.Std(),
	}
}

// GroupLogChatID parses telegram.group_log; 0 means unset.
func (c *Config) GroupLogChatID() int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(c.Telegram.GroupLog), 10, 64)
	return id
}
