// Package executor performs the network side of one task record.
//
// Three variants share one contract: Provision creates and places a link
// widget, Edit rewrites or moves one, Remove takes one down. A variant is
// picked once per run and used for every record in it.
package executor

import (
	"context"
	"fmt"
	"html"

	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	"linkrunner/internal/wpapi"
)

// Job is everything one execution needs. Record is a private copy; the
// executor never sees the scheduler's working state.
type Job struct {
	Record   model.Record
	Resolver model.Resolver
	Proxy    model.Proxy
}

type Executor interface {
	Name() string
	Execute(ctx context.Context, job Job) error
}

// API is the slice of the WordPress REST surface the executors use.
type API interface {
	ListSidebars(ctx context.Context) ([]wpapi.Sidebar, error)
	GetWidget(ctx context.Context, id string) (wpapi.Widget, error)
	CreateWidget(ctx context.Context, html string) (string, error)
	UpdateWidget(ctx context.Context, id, html string) error
	SetSidebarWidgets(ctx context.Context, sidebarID string, widgets []string) error
	DeleteWidget(ctx context.Context, id string) error
}

// Dialer opens an API bound to one site through one egress.
type Dialer interface {
	Dial(creds model.Credentials, proxy model.Proxy) (API, error)
}

type DialFunc func(creds model.Credentials, proxy model.Proxy) (API, error)

func (f DialFunc) Dial(creds model.Credentials, proxy model.Proxy) (API, error) { return f(creds, proxy) }

// FromFactory adapts a wpapi.Factory.
func FromFactory(f *wpapi.Factory) Dialer {
	return DialFunc(func(creds model.Credentials, proxy model.Proxy) (API, error) {
		c, err := f.Client(creds, proxy)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Run calls ex.Execute and converts a panic into a task error.
func Run(ctx context.Context, ex Executor, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", ex.Name(), r)
		}
	}()
	return ex.Execute(ctx, job)
}

// LinkHTML is the widget markup for one link.
func LinkHTML(url, keyword string) string {
	return `<a href="` + html.EscapeString(url) + `"><strong>` + html.EscapeString(keyword) + `</strong></a>`
}

func dial(d Dialer, r model.Resolver, target string, proxy model.Proxy) (API, error) {
	if r == nil {
		return nil, faults.Credential("resolve credentials", fmt.Errorf("no resolver for %s", model.NormalizeHost(target)))
	}
	creds, err := r.Resolve(target)
	if err != nil {
		return nil, err
	}
	return d.Dial(creds, proxy)
}

// activeSidebar picks the first active container, else the first that has a widgets array.
func activeSidebar(sbs []wpapi.Sidebar) (wpapi.Sidebar, bool) {
	for _, sb := range sbs {
		if sb.Status == "active" && sb.ID != "" && sb.ID != wpapi.InactiveSidebar {
			return sb, true
		}
	}
	for _, sb := range sbs {
		if sb.HasWidgets && sb.ID != "" && sb.ID != wpapi.InactiveSidebar {
			return sb, true
		}
	}
	return wpapi.Sidebar{}, false
}

func findActiveSidebar(ctx context.Context, api API) (wpapi.Sidebar, error) {
	sbs, err := api.ListSidebars(ctx)
	if err != nil {
		return wpapi.Sidebar{}, err
	}
	if len(sbs) == 0 {
		return wpapi.Sidebar{}, faults.NotFoundf("find sidebar", "no sidebars found")
	}
	sb, ok := activeSidebar(sbs)
	if !ok {
		return wpapi.Sidebar{}, faults.NotFoundf("find sidebar", "no active sidebar detected")
	}
	return sb, nil
}

func prepend(id string, list []string) []string {
	for _, w := range list {
		if w == id {
			return append([]string(nil), list...)
		}
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, id)
	return append(out, list...)
}

func without(id string, list []string) []string {
	out := make([]string, 0, len(list))
	for _, w := range list {
		if w != id {
			out = append(out, w)
		}
	}
	return out
}
