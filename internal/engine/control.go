package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"linkrunner/internal/campaign"
	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

func (e *Engine) handle(ctx context.Context, cmd Command) (Result, error) {
	switch cmd.Type {
	case CmdStartCampaigns:
		return e.startCampaigns(ctx)
	case CmdSubmitRun:
		return e.submitRun(ctx, cmd)
	case CmdStop:
		return e.stop(ctx, cmd.Force)
	case CmdResume:
		return e.resume(ctx, cmd.Mode)
	case CmdRetryFailed:
		return e.retryFailed(ctx, cmd)
	case CmdRemoveRows:
		return e.removeRows(ctx, cmd)
	case CmdClearRun:
		return e.clearRun(ctx, cmd.Mode)
	case CmdSaveProject:
		return e.saveProject(ctx, cmd.Project)
	case CmdStartProject:
		return e.startProject(ctx, cmd.ProjectID)
	case CmdStopProject:
		return e.stopProject(ctx, cmd.ProjectID)
	case CmdDeleteProject:
		return e.deleteProject(ctx, cmd.ProjectID)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

// checkSettings is the only error the loop raises to its caller: the loop
// does not start on invalid settings.
func (e *Engine) checkSettings(ctx context.Context) error {
	s, err := e.store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	return s.Validate()
}

func (e *Engine) startCampaigns(ctx context.Context) (Result, error) {
	if err := e.checkSettings(ctx); err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	e.ensureLoopLocked()
	e.mu.Unlock()
	return Result{OK: true, Message: "started"}, nil
}

func (e *Engine) submitRun(ctx context.Context, cmd Command) (Result, error) {
	mode, err := model.ParseMode(string(cmd.Mode))
	if err != nil {
		return Result{}, faults.Config("submit run", err)
	}
	if len(cmd.Rows) == 0 {
		return Result{}, faults.Configf("submit run: no rows")
	}
	if err := e.checkSettings(ctx); err != nil {
		return Result{}, err
	}

	run := &model.Run{Mode: mode, Running: true, DomainSet: cmd.DomainSet}
	for _, r := range cmd.Rows {
		if r == nil {
			continue
		}
		row := r.Clone()
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.DomainSet == "" {
			row.DomainSet = cmd.DomainSet
		}
		if row.Status != model.StatusSuccess {
			row.Status = model.StatusIdle
			row.Retries = 0
			row.Message = ""
		}
		run.Rows = append(run.Rows, row)
	}
	if run.DomainSet == "" {
		run.DomainSet = run.Rows[0].DomainSet
	}
	if run.DomainSet == "" {
		run.DomainSet = "default"
	}

	other := model.ModeRemove
	if mode == model.ModeRemove {
		other = model.ModeEdit
	}
	e.mu.Lock()
	e.runs[mode] = run
	hadOther := e.runs[other] != nil
	delete(e.runs, other)
	e.ensureLoopLocked()
	e.mu.Unlock()

	e.persistRun(ctx, mode)
	if hadOther {
		e.persistRun(ctx, other)
	}
	e.log.Info("run submitted", logx.String("mode", string(mode)), logx.Int("rows", len(run.Rows)))
	return Result{OK: true, Changed: len(run.Rows), Message: "run started"}, nil
}

// stop parks everything without touching Success rows: tool rows become
// Stopped, in-flight campaign rows go back to Pending.
func (e *Engine) stop(ctx context.Context, force bool) (Result, error) {
	e.mu.Lock()
	if e.tok != nil {
		e.tok.Stop(force)
	}
	e.restart = false
	changed := 0
	var modes []model.Mode
	for mode, run := range e.runs {
		if run == nil {
			continue
		}
		modes = append(modes, mode)
		run.Running = false
		for _, r := range run.Rows {
			if r.Status == model.StatusRunning || r.Status == model.StatusPending {
				r.Status = model.StatusStopped
				r.Message = model.MsgStoppedUser
				changed++
			}
		}
	}
	for _, p := range e.projects {
		if p.Run == nil {
			continue
		}
		for _, r := range p.Run.Domains {
			if r.Status == model.StatusRunning {
				r.Status = model.StatusPending
				r.Message = model.MsgPaused
				changed++
			}
		}
	}
	e.mu.Unlock()

	for _, m := range modes {
		e.persistRun(ctx, m)
	}
	e.persistProjects(ctx)
	return Result{OK: true, Changed: changed, Message: "stopped"}, nil
}

// resume re-queues Stopped rows of the loaded tool run. With no tool run it
// starts the campaigns instead.
func (e *Engine) resume(ctx context.Context, mode model.Mode) (Result, error) {
	e.mu.Lock()
	run := e.pickRunLocked(mode)
	e.mu.Unlock()
	if run == nil {
		return e.startCampaigns(ctx)
	}
	if err := e.checkSettings(ctx); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	changed := 0
	for _, r := range run.Rows {
		if r.Status == model.StatusStopped {
			r.Status = model.StatusPending
			r.Message = ""
			changed++
		}
	}
	run.Running = true
	e.ensureLoopLocked()
	e.mu.Unlock()

	e.persistRun(ctx, run.Mode)
	return Result{OK: true, Changed: changed, Message: "resumed"}, nil
}

func (e *Engine) retryFailed(ctx context.Context, cmd Command) (Result, error) {
	if err := e.checkSettings(ctx); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	var (
		rows    []*model.Record
		run     *model.Run
		project *model.Project
	)
	if cmd.ProjectID != "" {
		project = model.FindProject(e.projects, cmd.ProjectID)
		if project == nil {
			e.mu.Unlock()
			return Result{}, faults.NotFoundf("retry failed", "project %s", cmd.ProjectID)
		}
		if project.Run != nil {
			rows = project.Run.Domains
		}
	} else if run = e.pickRunLocked(cmd.Mode); run != nil {
		rows = run.Rows
	}

	changed := 0
	for _, r := range rows {
		if r.Status == model.StatusFailed {
			r.Status = model.StatusPending
			r.Retries = 0
			r.Message = ""
			r.ReplacedBy = ""
			changed++
		}
	}
	if changed == 0 {
		e.mu.Unlock()
		return Result{OK: false, Message: "nothing to retry"}, nil
	}
	if project != nil && project.Status != model.ProjectStopped {
		project.Status = model.ProjectRunning
		project.Message = ""
	}
	if run != nil {
		run.Running = true
	}
	e.ensureLoopLocked()
	e.mu.Unlock()

	if run != nil {
		e.persistRun(ctx, run.Mode)
	} else {
		e.persistProjects(ctx)
	}
	return Result{OK: true, Changed: changed, Message: "retrying"}, nil
}

// removeRows drops rows by id. A removed in-flight row keeps executing but
// its result no longer lands in any document.
func (e *Engine) removeRows(ctx context.Context, cmd Command) (Result, error) {
	drop := make(map[string]bool, len(cmd.IDs))
	for _, id := range cmd.IDs {
		drop[id] = true
	}
	e.mu.Lock()
	changed := 0
	var modes []model.Mode
	for mode, run := range e.runs {
		if run == nil || (cmd.Mode != "" && cmd.Mode != mode) {
			continue
		}
		kept := run.Rows[:0:0]
		for _, r := range run.Rows {
			if drop[r.ID] {
				changed++
				continue
			}
			kept = append(kept, r)
		}
		run.Rows = kept
		modes = append(modes, mode)
	}
	e.mu.Unlock()

	for _, m := range modes {
		e.persistRun(ctx, m)
	}
	return Result{OK: changed > 0, Changed: changed}, nil
}

func (e *Engine) clearRun(ctx context.Context, mode model.Mode) (Result, error) {
	modes := []model.Mode{model.ModeEdit, model.ModeRemove}
	if mode != "" {
		if _, err := model.ParseMode(string(mode)); err != nil {
			return Result{}, faults.Config("clear run", err)
		}
		modes = []model.Mode{mode}
	}
	e.mu.Lock()
	for _, m := range modes {
		delete(e.runs, m)
	}
	e.mu.Unlock()
	for _, m := range modes {
		e.persistRun(ctx, m)
	}
	return Result{OK: true, Message: "cleared"}, nil
}

// saveProject creates a project or updates the name and config of an
// existing one. Status and campaign state stay owned by the engine.
func (e *Engine) saveProject(ctx context.Context, in *model.Project) (Result, error) {
	if in == nil {
		return Result{}, faults.Configf("save project: missing project")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Result{}, faults.Configf("save project: name is required")
	}

	e.mu.Lock()
	p := model.FindProject(e.projects, in.ID)
	if p == nil {
		p = &model.Project{
			ID:        in.ID,
			CreatedAt: e.now().UnixMilli(),
			Status:    model.ProjectIdle,
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		e.projects = append(e.projects, p)
	}
	p.Name = name
	p.Config = in.Clone().Config
	out := p.Clone()
	e.mu.Unlock()

	e.persistProjects(ctx)
	return Result{OK: true, Project: out}, nil
}

// startProject materializes the campaign on first start. Later starts fold
// config edits into the existing campaign and resume it.
func (e *Engine) startProject(ctx context.Context, id string) (Result, error) {
	if err := e.checkSettings(ctx); err != nil {
		return Result{}, err
	}
	pools, err := e.store.LoadPools(ctx)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	p := model.FindProject(e.projects, id)
	if p == nil {
		e.mu.Unlock()
		return Result{}, faults.NotFoundf("start project", "project %s", id)
	}
	if p.Status != model.ProjectRunning {
		if p.Run == nil {
			c, err := campaign.Materialize(p.Config, pools, e.now())
			if err != nil {
				e.mu.Unlock()
				return Result{}, err
			}
			p.Run = c
		} else if err := campaign.Reapply(p.Run, p.Config); err != nil {
			e.mu.Unlock()
			return Result{}, err
		}
		p.Status = model.ProjectRunning
		p.Message = ""
	}
	e.ensureLoopLocked()
	out := p.Clone()
	e.mu.Unlock()

	e.persistProjects(ctx)
	e.log.Info("project started", logx.String("project", out.Name), logx.String("plan", campaign.Describe(out.Run)))
	return Result{OK: true, Project: out}, nil
}

func (e *Engine) stopProject(ctx context.Context, id string) (Result, error) {
	e.mu.Lock()
	p := model.FindProject(e.projects, id)
	if p == nil {
		e.mu.Unlock()
		return Result{}, faults.NotFoundf("stop project", "project %s", id)
	}
	p.Status = model.ProjectStopped
	p.Message = ""
	if p.Run != nil {
		for _, r := range p.Run.Domains {
			if r.Status == model.StatusRunning {
				r.Status = model.StatusPending
				r.Message = model.MsgPaused
			}
		}
	}
	out := p.Clone()
	e.mu.Unlock()

	e.persistProjects(ctx)
	return Result{OK: true, Project: out}, nil
}

func (e *Engine) deleteProject(ctx context.Context, id string) (Result, error) {
	e.mu.Lock()
	kept := e.projects[:0:0]
	for _, p := range e.projects {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	removed := len(e.projects) - len(kept)
	e.projects = kept
	e.mu.Unlock()
	if removed == 0 {
		return Result{}, faults.NotFoundf("delete project", "project %s", id)
	}
	e.persistProjects(ctx)
	return Result{OK: true, Changed: removed}, nil
}

// pickRunLocked returns the run for mode, or any loaded run when mode is empty.
func (e *Engine) pickRunLocked(mode model.Mode) *model.Run {
	if mode != "" {
		return e.runs[mode]
	}
	for _, m := range []model.Mode{model.ModeEdit, model.ModeRemove} {
		if r := e.runs[m]; r != nil {
			return r
		}
	}
	return nil
}
