// Package proxy tests the configured proxies and records their status in
// the settings document.
package proxy

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

// SettingsStore is the part of storage the tester needs.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, st model.Settings) error
}

// Result is the outcome for one proxy.
type Result struct {
	Proxy   model.Proxy   `json:"proxy"`
	Latency time.Duration `json:"latency"`
	Err     string        `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Err == "" }

// Status renders the value stored in the proxy's status field.
func (r Result) Status() string {
	if r.OK() {
		return "ok " + r.Latency.Round(time.Millisecond).String()
	}
	return "failed: " + r.Err
}

type Tester struct {
	store       SettingsStore
	prober      Prober
	concurrency int
	log         logx.Logger
}

func NewTester(store SettingsStore, prober Prober, concurrency int, log logx.Logger) *Tester {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Tester{store: store, prober: prober, concurrency: concurrency, log: log.With(logx.String("comp", "proxy"))}
}

// TestAll probes every configured proxy and writes the statuses back. The
// settings are reloaded before saving so edits made during the probe are
// kept; a proxy removed meanwhile is not re-added.
func (t *Tester) TestAll(ctx context.Context) ([]Result, error) {
	st, err := t.store.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(st.Proxies))
	if len(results) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, p := range st.Proxies {
		g.Go(func() error {
			results[i] = t.probe(gctx, p)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}

	byAddr := make(map[string]Result, len(results))
	for _, r := range results {
		byAddr[r.Proxy.Addr()] = r
	}

	cur, err := t.store.LoadSettings(ctx)
	if err != nil {
		return results, err
	}
	for i := range cur.Proxies {
		if r, ok := byAddr[cur.Proxies[i].Addr()]; ok {
			cur.Proxies[i].Status = r.Status()
		}
	}
	if err := t.store.SaveSettings(ctx, cur); err != nil {
		return results, fmt.Errorf("save proxy status: %w", err)
	}

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	t.log.Info("proxies tested", logx.Int("total", len(results)), logx.Int("ok", ok))
	return results, nil
}

func (t *Tester) probe(ctx context.Context, p model.Proxy) (res Result) {
	res.Proxy = p
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Sprintf("panic: %v", r)
		}
	}()
	lat, err := t.prober.Probe(ctx, p)
	if err != nil {
		res.Err = err.Error()
		t.log.Debug("proxy failed", logx.String("proxy", p.String()), logx.Err(err))
		return res
	}
	res.Latency = lat
	return res
}
