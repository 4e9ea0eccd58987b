package proxy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

type memSettings struct {
	mu    sync.Mutex
	st    model.Settings
	saves int
	// onLoad runs after the first load, simulating an edit during the probe.
	onLoad func(*model.Settings)
	loads  int
}

func (m *memSettings) LoadSettings(context.Context) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loads == 2 && m.onLoad != nil {
		m.onLoad(&m.st)
	}
	out := m.st
	out.Proxies = append([]model.Proxy(nil), m.st.Proxies...)
	return out, nil
}

func (m *memSettings) SaveSettings(_ context.Context, st model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
	m.saves++
	return nil
}

type fakeProber map[string]time.Duration

func (f fakeProber) Probe(_ context.Context, p model.Proxy) (time.Duration, error) {
	lat, ok := f[p.Addr()]
	if !ok {
		return 0, errors.New("connection refused")
	}
	if lat < 0 {
		panic("boom")
	}
	return lat, nil
}

func proxies(t *testing.T, lines ...string) []model.Proxy {
	t.Helper()
	out, bad := model.ParseProxyLines(strings.Join(lines, "\n"))
	if len(bad) > 0 {
		t.Fatalf("bad proxies: %v", bad)
	}
	return out
}

func TestTestAllWritesStatus(t *testing.T) {
	t.Parallel()

	store := &memSettings{st: model.DefaultSettings()}
	store.st.Proxies = proxies(t, "10.0.0.1:8080", "u:p@10.0.0.2:3128", "10.0.0.3:80")
	prober := fakeProber{
		"10.0.0.1:8080": 120 * time.Millisecond,
		"10.0.0.3:80":   -1,
	}

	res, err := NewTester(store, prober, 2, logx.Nop()).TestAll(context.Background())
	if err != nil {
		t.Fatalf("TestAll: %v", err)
	}
	if len(res) != 3 || !res[0].OK() || res[1].OK() || res[2].OK() {
		t.Fatalf("results=%+v", res)
	}

	got := store.st.Proxies
	if got[0].Status != "ok 120ms" {
		t.Fatalf("status[0]=%q", got[0].Status)
	}
	if got[1].Status != "failed: connection refused" {
		t.Fatalf("status[1]=%q", got[1].Status)
	}
	if !strings.HasPrefix(got[2].Status, "failed: panic") {
		t.Fatalf("status[2]=%q", got[2].Status)
	}
	if got[1].User != "u" || got[1].Pass != "p" {
		t.Fatalf("credentials lost: %+v", got[1])
	}
}

func TestTestAllKeepsConcurrentEdits(t *testing.T) {
	t.Parallel()

	store := &memSettings{st: model.DefaultSettings()}
	store.st.Proxies = proxies(t, "10.0.0.1:8080", "10.0.0.2:8080")
	store.onLoad = func(st *model.Settings) {
		st.Proxies = st.Proxies[1:]
		st.Execution.MaxRetries = 7
	}
	prober := fakeProber{"10.0.0.1:8080": time.Millisecond, "10.0.0.2:8080": 2 * time.Millisecond}

	if _, err := NewTester(store, prober, 1, logx.Nop()).TestAll(context.Background()); err != nil {
		t.Fatalf("TestAll: %v", err)
	}
	if len(store.st.Proxies) != 1 || store.st.Proxies[0].Addr() != "10.0.0.2:8080" {
		t.Fatalf("proxies=%+v", store.st.Proxies)
	}
	if store.st.Proxies[0].Status != "ok 2ms" || store.st.Execution.MaxRetries != 7 {
		t.Fatalf("settings=%+v", store.st)
	}
}

func TestTestAllWithoutProxies(t *testing.T) {
	t.Parallel()

	store := &memSettings{st: model.DefaultSettings()}
	res, err := NewTester(store, fakeProber{}, 0, logx.Nop()).TestAll(context.Background())
	if err != nil || len(res) != 0 || store.saves != 0 {
		t.Fatalf("res=%v err=%v saves=%d", res, err, store.saves)
	}
}

func TestSpeedtestRejectsEmptyProxy(t *testing.T) {
	t.Parallel()

	if _, err := NewSpeedtest(SpeedtestConfig{}).Probe(context.Background(), model.Proxy{}); err == nil {
		t.Fatalf("expected error")
	}
}
