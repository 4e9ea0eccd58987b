// Package engine runs link campaigns and tool runs.
//
// All control goes through one mailbox goroutine; the scheduler loop runs in
// its own goroutine under a fresh Token per start. Documents live in memory
// behind one mutex and are persisted through a Store after every change.
// Observers read deep copies via Snapshot or the event bus.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"linkrunner/internal/eventbus"
	"linkrunner/internal/executor"
	"linkrunner/internal/model"
	"linkrunner/internal/runtime/supervisor"
	logx "linkrunner/pkg/logx"
)

type Config struct {
	// SnapshotInterval paces the periodic snapshot while work is loaded.
	SnapshotInterval time.Duration
	// ResumeOnStart starts the loop at boot when a project is Running.
	ResumeOnStart bool
	// MailboxSize bounds queued commands.
	MailboxSize int
}

func (c Config) withDefaults() Config {
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 500 * time.Millisecond
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 16
	}
	return c
}

type Option func(*Engine)

// WithExecutors replaces the network executors.
func WithExecutors(provision, edit, remove executor.Executor) Option {
	return func(e *Engine) {
		e.provision = provision
		e.byMode[model.ModeEdit] = edit
		e.byMode[model.ModeRemove] = remove
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type request struct {
	cmd   Command
	reply chan reply
}

type reply struct {
	res Result
	err error
}

type Engine struct {
	cfg   Config
	store Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	provision executor.Executor
	byMode    map[model.Mode]executor.Executor

	started atomic.Bool
	sup     *supervisor.Supervisor
	cmds    chan request

	mu         sync.Mutex
	runs       map[model.Mode]*model.Run
	projects   []*model.Project
	inflight   map[string]bool
	tok        *Token
	loopActive bool
	restart    bool

	// saveMu orders document writes.
	saveMu sync.Mutex
}

func New(cfg Config, store Store, dialer executor.Dialer, log logx.Logger, bus eventbus.Bus, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	cfg = cfg.withDefaults()
	log = log.With(logx.String("comp", "engine"))
	e := &Engine{
		cfg:       cfg,
		store:     store,
		log:       log,
		bus:       bus,
		now:       time.Now,
		provision: executor.NewProvision(dialer, log),
		byMode: map[model.Mode]executor.Executor{
			model.ModeEdit:   executor.NewEdit(dialer, log),
			model.ModeRemove: executor.NewRemove(dialer, log),
		},
		cmds:     make(chan request, cfg.MailboxSize),
		runs:     map[model.Mode]*model.Run{},
		inflight: map[string]bool{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start loads and crash-recovers the stored documents, then starts the
// mailbox and the snapshot publisher.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine: already started")
	}
	if err := e.load(ctx); err != nil {
		e.started.Store(false)
		return err
	}

	e.sup = supervisor.New(ctx, supervisor.WithLogger(e.log))
	e.sup.Go("engine.mailbox", e.serve)
	e.sup.Go0("engine.snapshots", e.publishLoop)

	if e.cfg.ResumeOnStart && e.hasRunningProject() {
		if _, err := e.Do(ctx, Command{Type: CmdStartCampaigns}); err != nil {
			e.log.Warn("resume on start skipped", logx.Err(err))
		}
	}
	return nil
}

func (e *Engine) load(ctx context.Context) error {
	projects, err := e.store.LoadProjects(ctx)
	if err != nil {
		return err
	}
	dirtyProjects := false
	for _, p := range projects {
		if p.RecoverAfterCrash() {
			dirtyProjects = true
		}
	}

	runs := map[model.Mode]*model.Run{}
	for _, mode := range []model.Mode{model.ModeEdit, model.ModeRemove} {
		run, err := e.store.LoadRun(ctx, mode)
		if err != nil {
			return err
		}
		if run == nil {
			continue
		}
		run.Mode = mode
		if run.RecoverAfterCrash() {
			if err := e.store.SaveRun(ctx, run); err != nil {
				return err
			}
			e.log.Info("run recovered after restart", logx.String("mode", string(mode)), logx.Int("rows", len(run.Rows)))
		}
		runs[mode] = run
	}
	if dirtyProjects {
		if err := e.store.SaveProjects(ctx, projects); err != nil {
			return err
		}
		e.log.Info("projects recovered after restart", logx.Int("projects", len(projects)))
	}

	e.mu.Lock()
	e.projects = projects
	e.runs = runs
	e.mu.Unlock()
	return nil
}

// Close stops the loop and every engine goroutine. In-flight requests are
// canceled; their records are parked and persisted before the loop exits.
func (e *Engine) Close(ctx context.Context) error {
	if !e.started.Load() {
		return nil
	}
	e.mu.Lock()
	if e.tok != nil {
		e.tok.Stop(false)
	}
	e.restart = false
	e.mu.Unlock()
	return e.sup.Stop(ctx)
}

// Do sends one command through the mailbox and waits for its reply.
func (e *Engine) Do(ctx context.Context, cmd Command) (Result, error) {
	if !e.started.Load() {
		return Result{}, ErrNotStarted
	}
	req := request{cmd: cmd, reply: make(chan reply, 1)}
	done := e.sup.Context().Done()
	select {
	case e.cmds <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-done:
		return Result{}, ErrClosed
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-done:
		return Result{}, ErrClosed
	}
}

func (e *Engine) serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-e.cmds:
			res, err := e.handle(ctx, req.cmd)
			if err != nil {
				e.log.Warn("command rejected", logx.String("type", req.cmd.Type), logx.Err(err))
			} else {
				e.log.Debug("command handled", logx.String("type", req.cmd.Type), logx.String("msg", res.Message))
			}
			req.reply <- reply{res: res, err: err}
			e.publishSnapshot()
		}
	}
}

// Running reports whether the loop goroutine is alive.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loopActive
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Type:          eventbus.TypeSnapshot,
		Run:           e.runs[model.ModeEdit].Clone(),
		RemoveRun:     e.runs[model.ModeRemove].Clone(),
		Projects:      model.CloneProjects(e.projects),
		EngineRunning: e.loopActive,
	}
}

// Bus exposes the event bus snapshots and lifecycle events go to.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

func (e *Engine) publishSnapshot() {
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeSnapshot, Data: e.Snapshot()})
}

func (e *Engine) publishLoop(ctx context.Context) {
	t := time.NewTicker(e.cfg.SnapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if e.live() {
				e.publishSnapshot()
			}
		}
	}
}

// live reports whether a run or a running project is loaded.
func (e *Engine) live() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.runs {
		if r != nil {
			return true
		}
	}
	for _, p := range e.projects {
		if p.Status == model.ProjectRunning {
			return true
		}
	}
	return false
}

func (e *Engine) hasRunningProject() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.projects {
		if p.Status == model.ProjectRunning {
			return true
		}
	}
	return false
}

// persistProjects writes a copy of the project list. Writes never use a
// canceled context so a shutdown still records parked state.
func (e *Engine) persistProjects(ctx context.Context) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	e.mu.Lock()
	projects := model.CloneProjects(e.projects)
	e.mu.Unlock()
	if projects == nil {
		projects = []*model.Project{}
	}
	if err := e.store.SaveProjects(context.WithoutCancel(ctx), projects); err != nil {
		e.log.Error("save projects failed", logx.Err(err))
	}
}

func (e *Engine) persistRun(ctx context.Context, mode model.Mode) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	e.mu.Lock()
	run := e.runs[mode].Clone()
	e.mu.Unlock()
	var err error
	if run == nil {
		err = e.store.ClearRun(context.WithoutCancel(ctx), mode)
	} else {
		err = e.store.SaveRun(context.WithoutCancel(ctx), run)
	}
	if err != nil {
		e.log.Error("save run failed", logx.String("mode", string(mode)), logx.Err(err))
	}
}
