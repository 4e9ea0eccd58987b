package executor

import (
	"context"
	"errors"

	"linkrunner/internal/faults"
	logx "linkrunner/pkg/logx"
)

// Provision creates a custom_html link widget and places it first in the
// site's active sidebar.
type Provision struct {
	dialer Dialer
	log    logx.Logger
}

func NewProvision(d Dialer, log logx.Logger) *Provision {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Provision{dialer: d, log: log.With(logx.String("exec", "provision"))}
}

func (p *Provision) Name() string { return "provision" }

func (p *Provision) Execute(ctx context.Context, job Job) error {
	rec := job.Record
	if rec.URL == "" || rec.Keyword == "" {
		return faults.NoRetry(errors.New("record has no url or keyword"))
	}
	api, err := dial(p.dialer, job.Resolver, rec.Target(), job.Proxy)
	if err != nil {
		return err
	}

	sb, err := findActiveSidebar(ctx, api)
	if err != nil {
		return err
	}
	id, err := api.CreateWidget(ctx, LinkHTML(rec.URL, rec.Keyword))
	if err != nil {
		return err
	}
	if err := api.SetSidebarWidgets(ctx, sb.ID, prepend(id, sb.Widgets)); err != nil {
		return err
	}
	p.log.Debug("widget placed",
		logx.String("target", rec.TargetKey()),
		logx.String("sidebar", sb.ID),
		logx.String("widget", id),
	)
	return nil
}
