package app

import (
	"context"
	"strings"
	"sync/atomic"

	"linkrunner/internal/config"
	"linkrunner/internal/proxy"
	logx "linkrunner/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{
	"state":    true,
	"engine":   true,
	"api":      true,
	"telegram": true,
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			cfg = coalesce(sub, cfg)
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

// coalesce drains queued updates and keeps the newest.
func coalesce(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

func (a *App) applyConfig(last, cfg *config.Config) {
	sections, attrs := config.Summarize(last, cfg)
	if len(sections) == 0 {
		a.log.Info("config applied (no changes)")
		return
	}
	a.log.Debug("config change summary", attrs...)

	changed := make(map[string]bool, len(sections))
	var restart []string
	for _, s := range sections {
		changed[s] = true
		if restartSections[s] {
			restart = append(restart, s)
		}
	}

	if changed["logging"] {
		a.logs.Apply(cfg.LogConfig())
	}
	if changed["http_client"] {
		a.client.Apply(cfg.ClientOptions())
	}
	if changed["schedule"] {
		if err := a.sched.Apply(cfg.ScheduleConfig()); err != nil {
			a.log.Warn("schedule config rejected; keeping previous", logx.Err(err))
		}
	}
	if changed["proxy_probe"] {
		a.proxies.apply(cfg)
	}
	if len(restart) > 0 {
		a.log.Warn("restart required for changes to take effect", logx.Strings("sections", restart))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// swapTester lets a reload replace the probe settings while API requests
// keep calling the same value.
type swapTester struct {
	store proxy.SettingsStore
	log   logx.Logger
	cur   atomic.Pointer[proxy.Tester]
}

func newSwapTester(store proxy.SettingsStore, cfg *config.Config, log logx.Logger) *swapTester {
	t := &swapTester{store: store, log: log}
	t.apply(cfg)
	return t
}

func (t *swapTester) apply(cfg *config.Config) {
	t.cur.Store(NewProxyTester(t.store, cfg, t.log))
}

func (t *swapTester) TestAll(ctx context.Context) ([]proxy.Result, error) {
	return t.cur.Load().TestAll(ctx)
}

// NewProxyTester builds the speedtest-backed tester described by cfg.
func NewProxyTester(store proxy.SettingsStore, cfg *config.Config, log logx.Logger) *proxy.Tester {
	return proxy.NewTester(store, proxy.NewSpeedtest(cfg.ProbeConfig()), cfg.ProxyProbe.Concurrency, log)
}
