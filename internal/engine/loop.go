package engine

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"linkrunner/internal/campaign"
	"linkrunner/internal/eventbus"
	"linkrunner/internal/executor"
	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

// ensureLoopLocked starts the loop goroutine, or asks a live one for another
// pass once it finishes. Caller holds e.mu.
func (e *Engine) ensureLoopLocked() {
	if e.loopActive {
		e.restart = true
		return
	}
	e.loopActive = true
	e.tok = NewToken()
	tok := e.tok
	e.sup.Go("engine.loop", func(ctx context.Context) error {
		e.loopMain(ctx, tok)
		return nil
	})
}

func (e *Engine) loopMain(ctx context.Context, tok *Token) {
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeEngineStarted})
	e.log.Info("loop started")
	for {
		err := e.run(ctx, tok)
		if err != nil {
			e.log.Error("loop aborted", logx.Err(err))
		}

		e.mu.Lock()
		if e.restart && err == nil && ctx.Err() == nil {
			e.restart = false
			tok = NewToken()
			e.tok = tok
			e.mu.Unlock()
			continue
		}
		e.restart = false
		e.loopActive = false
		e.mu.Unlock()

		e.log.Info("loop stopped", logx.Bool("requested", tok.Stopped()), logx.Bool("forced", tok.Forced()))
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeEngineStopped})
		e.publishSnapshot()
		return
	}
}

// run executes until the token is stopped or no work remains. Settings and
// pools are read fresh every iteration.
func (e *Engine) run(ctx context.Context, tok *Token) error {
	for {
		if tok.Stopped() || ctx.Err() != nil {
			return nil
		}
		settings, err := e.store.LoadSettings(ctx)
		if err == nil {
			err = settings.Validate()
		}
		if err != nil {
			return err
		}
		pools, err := e.store.LoadPools(ctx)
		if err != nil {
			return err
		}

		e.mu.Lock()
		run := e.activeRunLocked()
		e.mu.Unlock()
		if run != nil {
			e.toolIteration(ctx, tok, run, settings, pools)
			continue
		}

		ids := e.runnableProjects(settings.Execution.ProjectConcurrency)
		if len(ids) == 0 {
			e.reconcile(ctx)
			return nil
		}
		var g errgroup.Group
		for _, id := range ids {
			g.Go(func() error {
				e.projectStep(ctx, tok, id, settings, pools)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (e *Engine) activeRunLocked() *model.Run {
	for _, m := range []model.Mode{model.ModeEdit, model.ModeRemove} {
		if r := e.runs[m]; r != nil && r.Running {
			return r
		}
	}
	return nil
}

// selectLocked walks rows in stored order and takes up to limit Pending rows,
// skipping rows with any target already picked or in flight anywhere.
// Selected rows are marked Running and all their targets reserved.
func (e *Engine) selectLocked(rows []*model.Record, limit int, msg string) []*model.Record {
	if limit < 1 {
		limit = 1
	}
	var batch []*model.Record
	for _, r := range rows {
		if len(batch) >= limit {
			break
		}
		if r.Status != model.StatusPending {
			continue
		}
		keys := r.TargetKeys()
		if slices.ContainsFunc(keys, func(k string) bool { return e.inflight[k] }) {
			continue
		}
		for _, k := range keys {
			e.inflight[k] = true
		}
		r.Status = model.StatusRunning
		if msg != "" {
			r.Message = msg
		}
		batch = append(batch, r)
	}
	return batch
}

func (e *Engine) toolIteration(ctx context.Context, tok *Token, run *model.Run, s model.Settings, pools model.DomainPools) {
	e.mu.Lock()
	if e.runs[run.Mode] != run || !run.Running {
		e.mu.Unlock()
		return
	}
	for _, r := range run.Rows {
		if r.Status == model.StatusIdle {
			r.Status = model.StatusPending
		}
	}
	if !run.HasStatus(model.StatusPending) {
		run.Running = false
		ev := RunEvent{
			Mode:    run.Mode,
			Total:   len(run.Rows),
			Success: model.CountStatus(run.Rows, model.StatusSuccess),
			Failed:  model.CountStatus(run.Rows, model.StatusFailed),
		}
		e.mu.Unlock()
		e.persistRun(ctx, run.Mode)
		e.log.Info("run finished",
			logx.String("mode", string(ev.Mode)),
			logx.Int("success", ev.Success),
			logx.Int("failed", ev.Failed),
		)
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: ev})
		return
	}
	batch := e.selectLocked(run.Rows, s.Execution.TaskConcurrency, "")
	for i, r := range run.Rows {
		if len(batch) > 0 && r == batch[0] {
			run.Index = i
			break
		}
	}
	ex := e.byMode[run.Mode]
	resolvers := map[string]model.Resolver{}
	resolve := func(r *model.Record) model.Resolver {
		name := r.DomainSet
		if name == "" {
			name = run.DomainSet
		}
		res, ok := resolvers[name]
		if !ok {
			res = model.NewPoolResolver(name, pools[name])
			resolvers[name] = res
		}
		return res
	}
	jobs := make([]attempt, 0, len(batch))
	for _, r := range batch {
		jobs = append(jobs, attempt{rec: r, resolver: resolve(r)})
	}
	e.mu.Unlock()

	e.persistRun(ctx, run.Mode)
	e.dispatch(ctx, tok, ex, jobs, s, false, func() bool {
		return e.runs[run.Mode] != run || !run.Running
	})
	e.persistRun(ctx, run.Mode)
	tok.Sleep(ctx, s.Delay())
}

func (e *Engine) runnableProjects(limit int) []string {
	if limit < 1 {
		limit = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, p := range e.projects {
		if len(ids) >= limit {
			break
		}
		if p.Runnable() {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// projectStep does one unit of work for a project: a promotion round when no
// record is Pending, otherwise one delayed batch.
func (e *Engine) projectStep(ctx context.Context, tok *Token, id string, s model.Settings, pools model.DomainPools) {
	e.mu.Lock()
	p := model.FindProject(e.projects, id)
	if p == nil || !p.Runnable() {
		e.mu.Unlock()
		return
	}
	if !p.HasStatus(model.StatusPending) {
		need := p.Run.Target - p.SuccessCount()
		moved := campaign.Promote(p.Run, need)
		name := p.Name
		e.mu.Unlock()
		e.log.Info("extras promoted", logx.String("project", name), logx.Int("promoted", moved), logx.Int("needed", need))
		e.persistProjects(ctx)
		return
	}
	e.mu.Unlock()

	if !tok.Sleep(ctx, s.Delay()) {
		return
	}

	e.mu.Lock()
	p = model.FindProject(e.projects, id)
	if p == nil || p.Status != model.ProjectRunning || p.Run == nil {
		e.mu.Unlock()
		return
	}
	batch := e.selectLocked(p.Run.Domains, s.Execution.TaskConcurrency, model.MsgExecuting)
	name := p.Run.DomainSet
	if name == "" {
		name = p.Config.DomainSet
	}
	resolver := model.NewPoolResolver(name, pools[name])
	jobs := make([]attempt, 0, len(batch))
	for _, r := range batch {
		jobs = append(jobs, attempt{rec: r, resolver: resolver})
	}
	e.mu.Unlock()
	if len(jobs) == 0 {
		return
	}

	e.persistProjects(ctx)
	e.dispatch(ctx, tok, e.provision, jobs, s, true, func() bool {
		cur := model.FindProject(e.projects, id)
		return cur == nil || cur.Status != model.ProjectRunning
	})

	e.mu.Lock()
	var events []eventbus.Event
	if p := model.FindProject(e.projects, id); p != nil {
		if ev, ok := e.closeOutLocked(p); ok {
			events = append(events, ev)
		}
	}
	e.mu.Unlock()
	e.persistProjects(ctx)
	e.emit(events)
}

// closeOutLocked finishes a Running project with nothing left to do:
// Completed at target, Blocked otherwise.
func (e *Engine) closeOutLocked(p *model.Project) (eventbus.Event, bool) {
	if p.Status != model.ProjectRunning || p.Run == nil || p.Runnable() || p.HasStatus(model.StatusRunning) {
		return eventbus.Event{}, false
	}
	ev := ProjectEvent{ProjectID: p.ID, Name: p.Name, Success: p.SuccessCount(), Target: p.Run.Target}
	if ev.Success >= ev.Target {
		p.Status = model.ProjectCompleted
		p.Message = ""
		return eventbus.Event{Type: eventbus.TypeProjectCompleted, Data: ev}, true
	}
	p.Status = model.ProjectBlocked
	p.Message = model.MsgNotEnough
	ev.Message = p.Message
	return eventbus.Event{Type: eventbus.TypeProjectBlocked, Data: ev}, true
}

// reconcile closes out every Running project once no work is left.
func (e *Engine) reconcile(ctx context.Context) {
	e.mu.Lock()
	var events []eventbus.Event
	for _, p := range e.projects {
		if ev, ok := e.closeOutLocked(p); ok {
			events = append(events, ev)
		}
	}
	e.mu.Unlock()
	if len(events) > 0 {
		e.persistProjects(ctx)
	}
	e.emit(events)
}

func (e *Engine) emit(events []eventbus.Event) {
	for _, ev := range events {
		if pe, ok := ev.Data.(ProjectEvent); ok {
			e.log.Info("project closed",
				logx.String("event", ev.Type),
				logx.String("project", pe.Name),
				logx.Int("success", pe.Success),
				logx.Int("target", pe.Target),
			)
		}
		e.bus.Publish(ev)
	}
}

// dispatch runs one batch concurrently and waits for all of it.
func (e *Engine) dispatch(ctx context.Context, tok *Token, ex executor.Executor, jobs []attempt, s model.Settings, campaignRows bool, halted func() bool) {
	var g errgroup.Group
	for i, a := range jobs {
		a.pos = i
		a.campaign = campaignRows
		a.halted = halted
		g.Go(func() error {
			e.execute(ctx, tok, ex, a, s)
			return nil
		})
	}
	_ = g.Wait()
}
