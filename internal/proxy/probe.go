package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"linkrunner/internal/model"
)

// Prober measures one proxy.
type Prober interface {
	Probe(ctx context.Context, p model.Proxy) (time.Duration, error)
}

// SpeedtestConfig controls the speedtest-backed probe.
type SpeedtestConfig struct {
	// Candidate servers pinged through the proxy, nearest first.
	ServerCount int
	// Timeout bounds one probe including the server list fetch.
	Timeout time.Duration
}

// Speedtest routes a speedtest.net server list fetch and a ping through the
// proxy. The best latency wins.
type Speedtest struct {
	cfg SpeedtestConfig
}

func NewSpeedtest(cfg SpeedtestConfig) *Speedtest {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Speedtest{cfg: cfg}
}

func (s *Speedtest) Probe(ctx context.Context, p model.Proxy) (time.Duration, error) {
	if p.IsZero() {
		return 0, errors.New("empty proxy")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	hc, tr := newHTTPClient(p, s.cfg.Timeout)
	// A fresh instance per probe; speedtest-go keeps per-instance state.
	stc := st.New(st.WithDoer(hc))
	defer func() {
		stc.Reset()
		tr.CloseIdleConnections()
	}()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return 0, errors.New("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := min(s.cfg.ServerCount, len(servers))

	var best time.Duration
	var lastErr error
	for _, srv := range servers[:n] {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := srv.PingTestContext(ctx, nil); err != nil {
			lastErr = err
			continue
		}
		if srv.Latency > 0 && (best == 0 || srv.Latency < best) {
			best = srv.Latency
		}
	}
	if best == 0 {
		if lastErr == nil {
			lastErr = errors.New("no latency measured")
		}
		return 0, fmt.Errorf("ping: %w", lastErr)
	}
	return best, nil
}

func newHTTPClient(p model.Proxy, timeout time.Duration) (*http.Client, *http.Transport) {
	dialTimeout := min(10*time.Second, timeout/2)
	if dialTimeout < 2*time.Second {
		dialTimeout = 2 * time.Second
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: -1}
	tr := &http.Transport{
		Proxy:                 http.ProxyURL(p.URL()),
		DialContext:           d.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		IdleConnTimeout:       2 * time.Second,
		DisableKeepAlives:     true,
	}
	return &http.Client{Transport: tr, Timeout: timeout}, tr
}
