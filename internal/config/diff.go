package config

import (
	"reflect"
	"strings"

	logx "linkrunner/pkg/logx"
)

// Summarize lists the sections that changed and safe log fields for them.
// Tokens are never included.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var attrs []logx.Field

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.State != newCfg.State {
		// Needs a restart.
		changed = append(changed, "state")
		attrs = append(attrs, logx.String("state.driver", newCfg.State.Driver))
	}
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
	}
	if !reflect.DeepEqual(oldCfg.HTTPClient, newCfg.HTTPClient) {
		changed = append(changed, "http_client")
		attrs = append(attrs,
			logx.Duration("http_client.timeout", newCfg.HTTPClient.Timeout.Std()),
			logx.Bool("http_client.insecure_tls", newCfg.HTTPClient.Insecure()),
			logx.Float64("http_client.rps", newCfg.HTTPClient.RequestsPerSecond),
		)
	}
	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", newCfg.API.Addr),
			logx.Bool("api.token_set", strings.TrimSpace(newCfg.API.Token) != ""),
		)
	}
	if oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.Telegram.GroupLog != newCfg.Telegram.GroupLog ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.spec", newCfg.Schedule.Spec),
		)
	}
	if oldCfg.ProxyProbe != newCfg.ProxyProbe {
		changed = append(changed, "proxy_probe")
	}
	return changed, attrs
}
