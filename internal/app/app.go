// Package app wires the process: config, logging, storage, the engine and
// the surfaces that drive it (HTTP API, Telegram bot, schedule).
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"linkrunner/internal/config"
	"linkrunner/internal/engine"
	"linkrunner/internal/eventbus"
	"linkrunner/internal/executor"
	rtsup "linkrunner/internal/runtime/supervisor"
	"linkrunner/internal/schedule"
	"linkrunner/internal/storage"
	"linkrunner/internal/transport/httpapi"
	"linkrunner/internal/transport/telegram"
	"linkrunner/internal/wpapi"
	logx "linkrunner/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopRequested  StopReason = "requested"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.Store
	client  *wpapi.Factory
	engine  *engine.Engine
	sched   *schedule.Service
	proxies *swapTester

	api *httpapi.Server
	bot *telegram.Bot
	sd  *sdNotifier

	stopOnce sync.Once
	stopErr  error
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(cfg.LogConfig())
	cfgm.SetLogger(log)

	a := &App{
		cfgm: cfgm,
		logs: logs,
		log:  log.With(logx.String("comp", "app")),
		bus:  eventbus.New(),
		sd:   newSDNotifier(log),
	}

	store, err := storage.Open(cfg.StorageConfig(), log)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}
	a.store = store
	a.log.Info("state opened", logx.String("driver", cfg.State.Driver), logx.String("path", cfg.State.Path))

	a.client = wpapi.NewFactory(cfg.ClientOptions(), log)
	a.engine = engine.New(cfg.EngineConfig(), store, executor.FromFactory(a.client), log, a.bus)
	a.proxies = newSwapTester(store, cfg, log)
	a.sched = schedule.New(cfg.ScheduleConfig(), a.triggerCampaigns, log)

	if cfg.Telegram.Enabled {
		bot, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			OwnerIDs:    cfg.Telegram.OwnerUserIDs,
			GroupLog:    cfg.GroupLogChatID(),
			ThreadID:    cfg.Logging.Telegram.ThreadID,
			PollTimeout: cfg.Telegram.PollTimeout.Std(),
		}, a.engine, log)
		if err != nil {
			a.closeEarly()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.bot = bot
		logs.SetAlertSender(bot)
	}

	if cfg.API.Enabled {
		a.api = httpapi.New(httpapi.Config{
			Addr:            cfg.API.Addr,
			Token:           cfg.API.Token,
			ShutdownTimeout: cfg.API.ShutdownTimeout.Std(),
		}, httpapi.Deps{
			Engine:  a.engine,
			Store:   store,
			Proxies: a.proxies,
			Health:  func() any { return a.Health() },
		}, log)
	}
	return a, nil
}

func (a *App) closeEarly() {
	a.client.Close()
	_ = a.store.Close()
	a.logs.Close()
}

// Start recovers crashed state, starts every enabled component and the
// config watcher. A failing supervised component cancels the app context;
// callers watch Done.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()
	a.cfgm.SetValidator(validateReload)

	rep, err := a.store.Recover(c)
	if err != nil {
		return fmt.Errorf("recover state: %w", err)
	}
	if len(rep.Runs) > 0 || rep.Projects > 0 {
		a.log.Warn("interrupted work recovered", logx.Any("runs", rep.Runs), logx.Int("projects", rep.Projects))
	}

	if err := a.engine.Start(c); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := a.sched.Start(c); err != nil {
		return fmt.Errorf("start schedule: %w", err)
	}
	if a.bot != nil {
		if err := a.bot.Start(c); err != nil {
			return fmt.Errorf("start telegram: %w", err)
		}
	}
	if a.api != nil {
		a.sup.Go("api", a.api.Run)
	}

	a.sup.Go0("events.log", a.logEvents)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sd.start(a.sup)

	a.log.Info("app started",
		logx.Bool("api", a.api != nil),
		logx.Bool("telegram", a.bot != nil),
		logx.Bool("schedule", a.cfgm.Get().Schedule.Enabled),
	)
	return nil
}

// Done is closed when the app context ends, including after a fatal
// component error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal component error.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) triggerCampaigns(ctx context.Context) error {
	res, err := a.engine.Do(ctx, engine.Command{Type: engine.CmdStartCampaigns})
	if err != nil {
		return err
	}
	a.log.Info("scheduled start", logx.String("msg", res.Message))
	return nil
}

// logEvents records lifecycle events; snapshots are too chatty to log.
func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64,
		eventbus.TypeEngineStarted,
		eventbus.TypeEngineStopped,
		eventbus.TypeProjectCompleted,
		eventbus.TypeProjectBlocked,
		eventbus.TypeRunFinished,
	)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case engine.ProjectEvent:
				a.log.Info("event", logx.String("type", e.Type), logx.String("project", d.Name),
					logx.Int("success", d.Success), logx.Int("target", d.Target), logx.String("msg", d.Message))
			case engine.RunEvent:
				a.log.Info("event", logx.String("type", e.Type), logx.String("mode", string(d.Mode)),
					logx.Int("total", d.Total), logx.Int("success", d.Success), logx.Int("failed", d.Failed))
			default:
				a.log.Debug("event", logx.String("type", e.Type))
			}
		}
	}
}

// Health is the process view served on /healthz.
type Health struct {
	App           rtsup.Snapshot  `json:"app"`
	Telegram      *rtsup.Snapshot `json:"telegram,omitempty"`
	EngineRunning bool            `json:"engine_running"`
	ScheduleNext  string          `json:"schedule_next,omitempty"`
	ScheduleFired uint64          `json:"schedule_fired"`
}

func (a *App) Health() Health {
	h := Health{
		App:           a.sup.Snapshot(),
		EngineRunning: a.engine.Running(),
		ScheduleFired: a.sched.Fired(),
	}
	if next, ok := a.sched.Next(); ok {
		h.ScheduleNext = next.Format(time.RFC3339)
	}
	if a.bot != nil {
		if sup := a.bot.Supervisor(); sup != nil {
			snap := sup.Snapshot()
			h.Telegram = &snap
		}
	}
	return h
}

// validateReload rejects a reload the live components could not apply.
func validateReload(_ context.Context, cfg *config.Config) error {
	if err := cfg.ScheduleConfig().Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	return nil
}
