package executor

import (
	"context"
	"errors"

	"linkrunner/internal/faults"
	logx "linkrunner/pkg/logx"
)

// Remove takes the widget carrying (url, keyword) out of its sidebar and deletes it.
type Remove struct {
	dialer Dialer
	log    logx.Logger
}

func NewRemove(d Dialer, log logx.Logger) *Remove {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Remove{dialer: d, log: log.With(logx.String("exec", "remove"))}
}

func (r *Remove) Name() string { return "remove" }

func (r *Remove) Execute(ctx context.Context, job Job) error {
	rec := job.Record
	if rec.Domain == "" || rec.URL == "" || rec.Keyword == "" {
		return faults.NoRetry(errors.New("remove needs domain, url and keyword"))
	}
	api, err := dial(r.dialer, job.Resolver, rec.Domain, job.Proxy)
	if err != nil {
		return err
	}
	m, err := findLinkWidget(ctx, api, rec.URL, rec.Keyword, r.log)
	if err != nil {
		return err
	}
	if err := api.SetSidebarWidgets(ctx, m.sidebar.ID, without(m.widget, m.sidebar.Widgets)); err != nil {
		return err
	}
	if err := api.DeleteWidget(ctx, m.widget); err != nil {
		return err
	}
	r.log.Debug("widget removed", logx.String("target", rec.TargetKey()), logx.String("widget", m.widget))
	return nil
}
