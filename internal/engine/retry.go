package engine

import (
	"context"

	"linkrunner/internal/executor"
	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

type attempt struct {
	rec      *model.Record
	resolver model.Resolver
	pos      int
	campaign bool
	// halted reports, under e.mu, that the owning run or project was stopped.
	halted func() bool
}

// execute drives one record through the retry policy: the first attempt
// uses proxy pos mod len(proxies), each failure advances round-robin, and the
// record fails for good once retries exceed maxRetries. Results are folded
// back under e.mu; the executor only sees a copy.
func (e *Engine) execute(ctx context.Context, tok *Token, ex executor.Executor, a attempt, s model.Settings) {
	rec := a.rec
	defer e.release(rec)

	proxies := s.Proxies
	idx := 0
	if len(proxies) > 0 {
		idx = a.pos % len(proxies)
	}
	maxRetries := s.Execution.MaxRetries

	for {
		e.mu.Lock()
		if rec.Status == model.StatusPending {
			rec.Status = model.StatusRunning
		}
		if rec.Status != model.StatusRunning {
			// Success, or taken over by a control command.
			e.mu.Unlock()
			return
		}
		if tok.Stopped() || ctx.Err() != nil || a.halted() {
			e.parkLocked(ctx, rec, a.campaign)
			e.mu.Unlock()
			return
		}
		var proxy model.Proxy
		if len(proxies) > 0 {
			proxy = proxies[idx]
		}
		job := executor.Job{Record: *rec.Clone(), Resolver: a.resolver, Proxy: proxy}
		e.mu.Unlock()

		err := executor.Run(ctx, ex, job)

		e.mu.Lock()
		if err == nil {
			// A success counts even after a stop.
			rec.Status = model.StatusSuccess
			rec.Message = model.MsgDone
			e.mu.Unlock()
			return
		}
		if rec.Status != model.StatusRunning {
			e.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			e.parkLocked(ctx, rec, a.campaign)
			e.mu.Unlock()
			return
		}
		rec.Retries++
		rec.Message = err.Error()
		if !faults.Retryable(err) || rec.Retries > maxRetries {
			rec.Status = model.StatusFailed
			e.mu.Unlock()
			e.log.Warn("task failed",
				logx.String("target", rec.TargetKey()),
				logx.Int("retries", rec.Retries),
				logx.String("kind", faults.KindOf(err).String()),
				logx.Bool("auth_rejected", faults.IsAuthRejected(err)),
				logx.Err(err),
			)
			return
		}
		rec.Status = model.StatusPending
		e.mu.Unlock()

		e.log.Debug("task retry",
			logx.String("target", rec.TargetKey()),
			logx.Int("retries", rec.Retries),
			logx.String("proxy", proxy.String()),
			logx.Err(err),
		)
		if len(proxies) > 0 {
			idx = (idx + 1) % len(proxies)
		}
	}
}

// parkLocked leaves a record resumable after a stop: campaign rows go back
// to Pending, tool rows become Stopped.
func (e *Engine) parkLocked(ctx context.Context, rec *model.Record, campaignRow bool) {
	closing := ctx.Err() != nil
	switch {
	case campaignRow && closing:
		rec.Status, rec.Message = model.StatusPending, model.MsgInterrupted
	case campaignRow:
		rec.Status, rec.Message = model.StatusPending, model.MsgPaused
	case closing:
		rec.Status, rec.Message = model.StatusStopped, model.MsgAppClosed
	default:
		rec.Status, rec.Message = model.StatusStopped, model.MsgStoppedUser
	}
}

func (e *Engine) release(rec *model.Record) {
	e.mu.Lock()
	for _, k := range rec.TargetKeys() {
		delete(e.inflight, k)
	}
	e.mu.Unlock()
}
