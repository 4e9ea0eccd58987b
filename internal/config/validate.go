package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	logx "linkrunner/pkg/logx"
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add("logging.file.path: required when file logging is enabled")
	}
	if c.Logging.Telegram.Enabled {
		if !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
			add("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel)
		}
		if !c.Telegram.Enabled || strings.TrimSpace(c.Telegram.GroupLog) == "" {
			add("logging.telegram: requires telegram.enabled and telegram.group_log")
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.State.Driver)) {
	case "file", "sqlite", "sqlite3":
	default:
		add("state.driver: unknown driver %q (use file or sqlite)", c.State.Driver)
	}

	if c.HTTPClient.RequestsPerSecond < 0 {
		add("http_client.requests_per_second: must be >= 0")
	}

	if c.API.Enabled {
		host, _, err := net.SplitHostPort(c.API.Addr)
		if err != nil {
			add("api.addr: %v", err)
		} else if !isLoopback(host) && strings.TrimSpace(c.API.Token) == "" {
			add("api.token: required when api.addr is not a loopback address")
		}
	}

	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			add("telegram.token: required when telegram is enabled")
		}
		if len(c.Telegram.OwnerUserIDs) == 0 {
			add("telegram.owner_user_ids: at least one owner is required")
		}
		if g := strings.TrimSpace(c.Telegram.GroupLog); g != "" {
			if _, err := strconv.ParseInt(g, 10, 64); err != nil {
				add("telegram.group_log: must be a numeric chat id")
			}
		}
	}

	if err := c.ScheduleConfig().Validate(); err != nil {
		add("schedule: %v", err)
	}

	return errors.Join(errs...)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
