package executor

import (
	"context"
	"errors"

	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

// Edit finds the widget carrying (oldUrl, oldKeyword) on oldDomain. On the
// same site it rewrites the markup; for a new site it moves the link: create
// on the new site, place it, unplace the old one, delete the old one.
//
// A move is not transactional. A failed step fails the record and nothing
// already done is rolled back; a retry runs the whole sequence again.
type Edit struct {
	dialer Dialer
	log    logx.Logger
}

func NewEdit(d Dialer, log logx.Logger) *Edit {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Edit{dialer: d, log: log.With(logx.String("exec", "edit"))}
}

func (e *Edit) Name() string { return "edit" }

func (e *Edit) Execute(ctx context.Context, job Job) error {
	rec := job.Record
	if rec.OldDomain == "" || rec.OldURL == "" || rec.OldKeyword == "" {
		return faults.NoRetry(errors.New("edit needs oldDomain, oldUrl and oldKeyword"))
	}
	oldKey := model.NormalizeHost(rec.OldDomain)
	newKey := model.NormalizeHost(rec.FinalDomain())

	oldAPI, err := dial(e.dialer, job.Resolver, rec.OldDomain, job.Proxy)
	if err != nil {
		return err
	}
	var newAPI API
	if newKey != oldKey {
		// Resolve both ends before touching anything.
		if newAPI, err = dial(e.dialer, job.Resolver, rec.FinalDomain(), job.Proxy); err != nil {
			return err
		}
	}

	m, err := findLinkWidget(ctx, oldAPI, rec.OldURL, rec.OldKeyword, e.log)
	if err != nil {
		return err
	}
	markup := LinkHTML(rec.FinalURL(), rec.FinalKeyword())

	if newAPI == nil {
		if err := oldAPI.UpdateWidget(ctx, m.widget, markup); err != nil {
			return err
		}
		e.log.Debug("widget modified", logx.String("target", oldKey), logx.String("widget", m.widget))
		return nil
	}

	dest, err := findActiveSidebar(ctx, newAPI)
	if err != nil {
		return err
	}
	id, err := newAPI.CreateWidget(ctx, markup)
	if err != nil {
		return err
	}
	if err := newAPI.SetSidebarWidgets(ctx, dest.ID, prepend(id, dest.Widgets)); err != nil {
		return err
	}
	if err := oldAPI.SetSidebarWidgets(ctx, m.sidebar.ID, without(m.widget, m.sidebar.Widgets)); err != nil {
		return err
	}
	if err := oldAPI.DeleteWidget(ctx, m.widget); err != nil {
		return err
	}
	e.log.Debug("widget moved",
		logx.String("from", oldKey),
		logx.String("to", newKey),
		logx.String("widget", id),
	)
	return nil
}
