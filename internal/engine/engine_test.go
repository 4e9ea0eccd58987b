package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"linkrunner/internal/eventbus"
	"linkrunner/internal/executor"
	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	mu       sync.Mutex
	settings model.Settings
	pools    model.DomainPools
	projects []*model.Project
	runs     map[model.Mode]*model.Run
	saves    int
}

func newMemStore() *memStore {
	return &memStore{
		settings: model.DefaultSettings(),
		pools:    model.DomainPools{},
		runs:     map[model.Mode]*model.Run{},
	}
}

func (s *memStore) LoadSettings(context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *memStore) LoadPools(context.Context) (model.DomainPools, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pools.Clone(), nil
}

func (s *memStore) LoadProjects(context.Context) ([]*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneProjects(s.projects), nil
}

func (s *memStore) SaveProjects(_ context.Context, ps []*model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = model.CloneProjects(ps)
	s.saves++
	return nil
}

func (s *memStore) LoadRun(_ context.Context, mode model.Mode) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[mode].Clone(), nil
}

func (s *memStore) SaveRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.Mode] = run.Clone()
	s.saves++
	return nil
}

func (s *memStore) ClearRun(_ context.Context, mode model.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, mode)
	return nil
}

func (s *memStore) run(mode model.Mode) *model.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[mode].Clone()
}

// fakeExec runs a scripted outcome per target and tracks overlap on every
// host a record writes to.
type fakeExec struct {
	mu       sync.Mutex
	outcome  func(job executor.Job) error
	calls    map[string]int
	proxies  []string
	active   map[string]int
	overlaps int
}

func newFakeExec(outcome func(job executor.Job) error) *fakeExec {
	return &fakeExec{outcome: outcome, calls: map[string]int{}, active: map[string]int{}}
}

func (f *fakeExec) Name() string { return "fake" }

func (f *fakeExec) Execute(ctx context.Context, job executor.Job) error {
	keys := job.Record.TargetKeys()
	f.mu.Lock()
	f.calls[job.Record.TargetKey()]++
	f.proxies = append(f.proxies, job.Proxy.IP)
	for _, k := range keys {
		f.active[k]++
		if f.active[k] > 1 {
			f.overlaps++
		}
	}
	outcome := f.outcome
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		for _, k := range keys {
			f.active[k]--
		}
		f.mu.Unlock()
	}()
	if outcome == nil {
		return nil
	}
	return outcome(job)
}

func (f *fakeExec) callsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeExec) overlapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlaps
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startEngine(t *testing.T, store *memStore, ex *fakeExec) (*Engine, eventbus.Bus) {
	t.Helper()
	return startEngineWithLog(t, store, ex, logx.Nop())
}

func startEngineWithLog(t *testing.T, store *memStore, ex *fakeExec, log logx.Logger) (*Engine, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	e := New(Config{SnapshotInterval: 10 * time.Millisecond}, store, nil, log, bus, WithExecutors(ex, ex, ex))
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Close(ctx); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return e, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func do(t *testing.T, e *Engine, cmd Command) Result {
	t.Helper()
	res, err := e.Do(context.Background(), cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Type, err)
	}
	return res
}

func removeRows(domains ...string) []*model.Record {
	var out []*model.Record
	for _, d := range domains {
		out = append(out, &model.Record{Domain: d + "|u|p", URL: "https://money.com", Keyword: "loans"})
	}
	return out
}

func TestToolRunCompletesOneTaskPerTarget(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.settings.Execution.TaskConcurrency = 4
	ex := newFakeExec(func(executor.Job) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeRunFinished)
	defer unsub()

	res := do(t, e, Command{Type: CmdSubmitRun, Mode: model.ModeRemove, Rows: removeRows("a.com", "a.com", "www.A.com", "b.com")})
	if !res.OK || res.Changed != 4 {
		t.Fatalf("submit=%+v", res)
	}
	ev := waitEvent(t, ch, eventbus.TypeRunFinished)
	if re := ev.Data.(RunEvent); re.Success != 4 || re.Failed != 0 {
		t.Fatalf("run event=%+v", re)
	}

	if ex.overlapCount() != 0 {
		t.Fatalf("two tasks ran against one target at once")
	}
	if got := ex.callsFor("a.com"); got != 3 {
		t.Fatalf("a.com calls=%d", got)
	}

	waitFor(t, "run persisted as finished", func() bool {
		run := store.run(model.ModeRemove)
		return run != nil && !run.Running
	})
	if idx := store.run(model.ModeRemove).Index; idx != 2 {
		t.Fatalf("index=%d, want the last batch start", idx)
	}
	for _, r := range store.run(model.ModeRemove).Rows {
		if r.Status != model.StatusSuccess || r.Message != model.MsgDone || r.ID == "" {
			t.Fatalf("row=%+v", r)
		}
	}
}

func TestEditMoveReservesBothTargets(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.settings.Execution.TaskConcurrency = 4
	ex := newFakeExec(func(executor.Job) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeRunFinished)
	defer unsub()

	do(t, e, Command{Type: CmdSubmitRun, Mode: model.ModeEdit, Rows: []*model.Record{
		{OldDomain: "a.com", NewDomain: "b.com", OldURL: "https://x.com", OldKeyword: "x"},
		{OldDomain: "www.B.com", OldURL: "https://y.com", OldKeyword: "y", NewKeyword: "z"},
		{OldDomain: "c.com", OldURL: "https://x.com", OldKeyword: "x"},
	}})
	ev := waitEvent(t, ch, eventbus.TypeRunFinished)
	if re := ev.Data.(RunEvent); re.Success != 3 {
		t.Fatalf("run event=%+v", re)
	}
	if n := ex.overlapCount(); n != 0 {
		t.Fatalf("a moved link and an edit on its destination ran together (%d overlaps)", n)
	}
	if got := ex.callsFor("b.com"); got != 1 {
		t.Fatalf("b.com calls=%d", got)
	}
}

func TestFailedTaskLogHidesCredentials(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.settings.Execution.MaxRetries = 1
	store.pools["main"] = []string{"a.com|admin|S3cretPass"}
	ex := newFakeExec(func(executor.Job) error {
		return faults.Transport("list sidebars", errors.New("connection reset"))
	})
	var out lockedBuffer
	e, bus := startEngineWithLog(t, store, ex, logx.NewJSON(&out, "debug"))
	ch, unsub := bus.Subscribe(64, eventbus.TypeProjectBlocked)
	defer unsub()

	id := do(t, e, Command{Type: CmdSaveProject, Project: campaignProject("p1", 1)}).Project.ID
	do(t, e, Command{Type: CmdStartProject, ProjectID: id})
	waitEvent(t, ch, eventbus.TypeProjectBlocked)

	logs := out.String()
	for _, want := range []string{"task retry", "task failed", `"target":"a.com"`} {
		if !strings.Contains(logs, want) {
			t.Fatalf("log missing %q:\n%s", want, logs)
		}
	}
	if strings.Contains(logs, "S3cretPass") || strings.Contains(logs, "admin|") {
		t.Fatalf("credentials leaked into log:\n%s", logs)
	}
}

func TestRetryCeilingAndProxyRotation(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.settings.Execution.MaxRetries = 2
	store.settings.Proxies = []model.Proxy{{IP: "p0", Port: "1"}, {IP: "p1", Port: "1"}}
	ex := newFakeExec(func(executor.Job) error {
		return faults.Transport("list sidebars", errors.New("connection reset"))
	})
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeRunFinished)
	defer unsub()

	do(t, e, Command{Type: CmdSubmitRun, Mode: model.ModeRemove, Rows: removeRows("a.com")})
	waitEvent(t, ch, eventbus.TypeRunFinished)

	if got := ex.callsFor("a.com"); got != 3 {
		t.Fatalf("attempts=%d, want maxRetries+1", got)
	}
	ex.mu.Lock()
	proxies := append([]string(nil), ex.proxies...)
	ex.mu.Unlock()
	want := []string{"p0", "p1", "p0"}
	for i := range want {
		if proxies[i] != want[i] {
			t.Fatalf("proxies=%v want %v", proxies, want)
		}
	}

	row := e.Snapshot().RemoveRun.Rows[0]
	if row.Status != model.StatusFailed || row.Retries != 3 || row.Message == "" {
		t.Fatalf("row=%+v", row)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.settings.Execution.MaxRetries = 5
	ex := newFakeExec(func(executor.Job) error {
		return faults.Credential("resolve credentials", errors.New("no credentials"))
	})
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeRunFinished)
	defer unsub()

	do(t, e, Command{Type: CmdSubmitRun, Mode: model.ModeEdit, Rows: []*model.Record{
		{OldDomain: "a.com", OldURL: "https://x.com", OldKeyword: "x"},
	}})
	waitEvent(t, ch, eventbus.TypeRunFinished)
	if got := ex.callsFor("a.com"); got != 1 {
		t.Fatalf("attempts=%d", got)
	}
	if row := e.Snapshot().Run.Rows[0]; row.Status != model.StatusFailed || row.Retries != 1 {
		t.Fatalf("row=%+v", row)
	}
}

func TestSuccessIsTerminal(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ex := newFakeExec(nil)
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeRunFinished)
	defer unsub()

	rows := removeRows("a.com", "b.com")
	rows[0].Status = model.StatusSuccess
	rows[0].Message = model.MsgDone
	do(t, e, Command{Type: CmdSubmitRun, Mode: model.ModeRemove, Rows: rows})
	waitEvent(t, ch, eventbus.TypeRunFinished)
	if got := ex.callsFor("a.com"); got != 0 {
		t.Fatalf("Success row executed %d times", got)
	}
	if got := ex.callsFor("b.com"); got != 1 {
		t.Fatalf("b.com calls=%d", got)
	}
}

func campaignProject(id string, required int) *model.Project {
	return &model.Project{
		ID:   id,
		Name: "money",
		Config: model.ProjectConfig{
			DomainSet:         "main",
			DesiredTotalLinks: model.FlexInt(required),
			KeywordSets: []model.KeywordSet{
				{URLs: "https://money.com", Keywords: "loans", RequiredLinks: model.FlexInt(required)},
			},
		},
	}
}

func TestCampaignCompletesWithExtras(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.pools["main"] = []string{"a.com|u|p", "b.com|u|p", "c.com|u|p", "d.com|u|p"}
	ex := newFakeExec(func(job executor.Job) error {
		if job.Record.TargetKey() == "a.com" {
			return faults.NotFoundf("find sidebar", "no active sidebar detected")
		}
		return nil
	})
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeProjectCompleted, eventbus.TypeProjectBlocked)
	defer unsub()

	res := do(t, e, Command{Type: CmdSaveProject, Project: campaignProject("", 2)})
	id := res.Project.ID
	if id == "" || res.Project.Status != model.ProjectIdle {
		t.Fatalf("saved=%+v", res.Project)
	}
	do(t, e, Command{Type: CmdStartProject, ProjectID: id})

	ev := waitEvent(t, ch, eventbus.TypeProjectCompleted)
	if pe := ev.Data.(ProjectEvent); pe.Success != 2 || pe.Target != 2 {
		t.Fatalf("event=%+v", pe)
	}

	p := model.FindProject(e.Snapshot().Projects, id)
	if p.Status != model.ProjectCompleted {
		t.Fatalf("status=%s", p.Status)
	}
	counts := map[model.Status]int{}
	for _, d := range p.Run.Domains {
		counts[d.Status]++
	}
	if counts[model.StatusSuccess] != 2 || counts[model.StatusFailed] != 1 || counts[model.StatusUnused] != 1 {
		t.Fatalf("counts=%v", counts)
	}
	a := p.Run.Domains[0]
	c := p.Run.Domains[2]
	if a.ReplacedBy != c.ID || c.URL != "https://money.com" || c.Keyword != "loans" {
		t.Fatalf("promoted extra did not take over: a=%+v c=%+v", a, c)
	}
	if p.Run.Domains[3].Status != model.StatusUnused {
		t.Fatalf("d should stay in reserve")
	}
}

func TestCampaignAllSucceedLeavesExtrasUnused(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.pools["main"] = []string{"a.com|u|p", "b.com|u|p", "c.com|u|p", "d.com|u|p"}
	ex := newFakeExec(nil)
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeProjectCompleted, eventbus.TypeProjectBlocked)
	defer unsub()

	id := do(t, e, Command{Type: CmdSaveProject, Project: campaignProject("p1", 2)}).Project.ID
	do(t, e, Command{Type: CmdStartProject, ProjectID: id})

	ev := waitEvent(t, ch, eventbus.TypeProjectCompleted)
	if pe := ev.Data.(ProjectEvent); pe.Success != 2 || pe.Target != 2 {
		t.Fatalf("event=%+v", pe)
	}
	p := model.FindProject(e.Snapshot().Projects, id)
	if p.Status != model.ProjectCompleted {
		t.Fatalf("status=%s", p.Status)
	}
	counts := map[model.Status]int{}
	for _, d := range p.Run.Domains {
		counts[d.Status]++
	}
	if len(p.Run.Domains) != 4 || counts[model.StatusSuccess] != 2 || counts[model.StatusUnused] != 2 {
		t.Fatalf("counts=%v", counts)
	}
	for _, host := range []string{"c.com", "d.com"} {
		if got := ex.callsFor(host); got != 0 {
			t.Fatalf("extra %s executed %d times", host, got)
		}
	}
}

func TestCampaignBlockedWhenPoolRunsOut(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.pools["main"] = []string{"a.com|u|p", "b.com|u|p", "c.com|u|p"}
	ex := newFakeExec(func(job executor.Job) error {
		if job.Record.TargetKey() == "b.com" {
			return nil
		}
		return faults.NoRetry(errors.New("rejected"))
	})
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeProjectCompleted, eventbus.TypeProjectBlocked)
	defer unsub()

	id := do(t, e, Command{Type: CmdSaveProject, Project: campaignProject("p1", 2)}).Project.ID
	do(t, e, Command{Type: CmdStartProject, ProjectID: id})

	ev := waitEvent(t, ch, eventbus.TypeProjectBlocked)
	pe := ev.Data.(ProjectEvent)
	if pe.Success != 1 || pe.Message != model.MsgNotEnough {
		t.Fatalf("event=%+v", pe)
	}
	p := model.FindProject(e.Snapshot().Projects, id)
	if p.Status != model.ProjectBlocked || p.HasStatus(model.StatusUnused) {
		t.Fatalf("project=%+v", p)
	}
	waitFor(t, "loop to end", func() bool { return !e.Running() })
}

func TestStopAndResumeAreIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	release := make(chan struct{})
	entered := make(chan struct{}, 8)
	ex := newFakeExec(func(executor.Job) error {
		entered <- struct{}{}
		<-release
		return errors.New("flaky")
	})
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeRunFinished)
	defer unsub()

	rows := removeRows("a.com", "b.com", "c.com")
	rows[2].Status = model.StatusSuccess
	do(t, e, Command{Type: CmdSubmitRun, Mode: model.ModeRemove, Rows: rows})
	<-entered

	for i := 0; i < 2; i++ {
		do(t, e, Command{Type: CmdStop, Force: true})
	}
	snap := e.Snapshot()
	if snap.RemoveRun.Running {
		t.Fatalf("run still marked running")
	}
	for _, r := range snap.RemoveRun.Rows[:2] {
		if r.Status != model.StatusStopped || r.Message != model.MsgStoppedUser {
			t.Fatalf("row=%+v", r)
		}
	}
	if snap.RemoveRun.Rows[2].Status != model.StatusSuccess {
		t.Fatalf("stop touched a Success row")
	}

	// The in-flight failure lands after the stop and must not flip the row.
	close(release)
	waitFor(t, "loop to drain", func() bool { return !e.Running() })
	row := e.Snapshot().RemoveRun.Rows[0]
	if row.Status != model.StatusStopped || row.Retries != 0 {
		t.Fatalf("row after drain=%+v", row)
	}

	ex.mu.Lock()
	ex.outcome = nil
	ex.mu.Unlock()
	for i := 0; i < 2; i++ {
		do(t, e, Command{Type: CmdResume, Mode: model.ModeRemove})
	}
	ev := waitEvent(t, ch, eventbus.TypeRunFinished)
	if re := ev.Data.(RunEvent); re.Success != 3 {
		t.Fatalf("run event=%+v", re)
	}
}

func TestStopParksCampaignRows(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.pools["main"] = []string{"a.com|u|p", "b.com|u|p"}
	release := make(chan struct{})
	entered := make(chan struct{}, 8)
	ex := newFakeExec(func(executor.Job) error {
		entered <- struct{}{}
		<-release
		return errors.New("flaky")
	})
	e, _ := startEngine(t, store, ex)

	id := do(t, e, Command{Type: CmdSaveProject, Project: campaignProject("p1", 1)}).Project.ID
	do(t, e, Command{Type: CmdStartProject, ProjectID: id})
	<-entered
	do(t, e, Command{Type: CmdStop})
	close(release)
	waitFor(t, "loop to drain", func() bool { return !e.Running() })

	p := model.FindProject(e.Snapshot().Projects, id)
	a := p.Run.Domains[0]
	if a.Status != model.StatusPending || a.Message != model.MsgPaused || a.Retries != 0 {
		t.Fatalf("row=%+v", a)
	}
	if p.Status != model.ProjectRunning {
		t.Fatalf("project status=%s", p.Status)
	}
}

func TestInvalidSettingsBlockStart(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.settings.Execution.TaskConcurrency = 0
	e, _ := startEngine(t, store, newFakeExec(nil))

	_, err := e.Do(context.Background(), Command{Type: CmdStartCampaigns})
	if !faults.Is(err, faults.KindConfig) {
		t.Fatalf("err=%v", err)
	}
	if e.Running() {
		t.Fatalf("loop started with invalid settings")
	}
	_, err = e.Do(context.Background(), Command{Type: CmdSubmitRun, Mode: model.ModeRemove, Rows: removeRows("a.com")})
	if !faults.Is(err, faults.KindConfig) {
		t.Fatalf("submit err=%v", err)
	}
}

func TestCrashRecoveryOnStart(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.runs[model.ModeEdit] = &model.Run{Mode: model.ModeEdit, Running: true, Rows: []*model.Record{
		{ID: "1", OldDomain: "a.com", Status: model.StatusRunning},
		{ID: "2", OldDomain: "b.com", Status: model.StatusSuccess},
	}}
	p := campaignProject("p1", 1)
	p.Status = model.ProjectRunning
	p.Run = &model.Campaign{Target: 1, Domains: []*model.Record{{ID: "x", Domain: "a.com", Status: model.StatusRunning}}}
	store.projects = []*model.Project{p}

	e, _ := startEngine(t, store, newFakeExec(nil))
	snap := e.Snapshot()
	if snap.Run.Running {
		t.Fatalf("recovered run still running")
	}
	if r := snap.Run.Rows[0]; r.Status != model.StatusStopped || r.Message != model.MsgAppClosed {
		t.Fatalf("row=%+v", r)
	}
	if r := snap.Run.Rows[1]; r.Status != model.StatusSuccess || r.Message != model.MsgDone {
		t.Fatalf("success row=%+v", r)
	}
	if r := snap.Projects[0].Run.Domains[0]; r.Status != model.StatusPending || r.Message != model.MsgInterrupted {
		t.Fatalf("campaign row=%+v", r)
	}
	if stored := store.run(model.ModeEdit); stored.Running || stored.Rows[0].Status != model.StatusStopped {
		t.Fatalf("recovered run was not re-saved")
	}
	if e.Running() {
		t.Fatalf("loop must not auto-start")
	}
}

func TestRetryFailedRemoveRowsAndClear(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	var fail sync.Map
	fail.Store("a.com", true)
	ex := newFakeExec(func(job executor.Job) error {
		if _, ok := fail.Load(job.Record.TargetKey()); ok {
			return faults.NoRetry(errors.New("nope"))
		}
		return nil
	})
	e, bus := startEngine(t, store, ex)
	ch, unsub := bus.Subscribe(64, eventbus.TypeRunFinished)
	defer unsub()

	do(t, e, Command{Type: CmdSubmitRun, Mode: model.ModeRemove, Rows: removeRows("a.com", "b.com")})
	waitEvent(t, ch, eventbus.TypeRunFinished)
	if res := do(t, e, Command{Type: CmdRetryFailed}); !res.OK || res.Changed != 1 {
		t.Fatalf("retry=%+v", res)
	}
	waitEvent(t, ch, eventbus.TypeRunFinished)
	if row := e.Snapshot().RemoveRun.Rows[0]; row.Status != model.StatusFailed || row.Retries != 1 {
		t.Fatalf("retries must reset before the new attempt: %+v", row)
	}

	fail.Delete("a.com")
	do(t, e, Command{Type: CmdRetryFailed, Mode: model.ModeRemove})
	waitEvent(t, ch, eventbus.TypeRunFinished)
	if res := do(t, e, Command{Type: CmdRetryFailed}); res.OK {
		t.Fatalf("nothing should be left to retry")
	}

	id := e.Snapshot().RemoveRun.Rows[0].ID
	if res := do(t, e, Command{Type: CmdRemoveRows, IDs: []string{id}}); res.Changed != 1 {
		t.Fatalf("remove=%+v", res)
	}
	if n := len(store.run(model.ModeRemove).Rows); n != 1 {
		t.Fatalf("rows left=%d", n)
	}
	do(t, e, Command{Type: CmdClearRun, Mode: model.ModeRemove})
	if e.Snapshot().RemoveRun != nil || store.run(model.ModeRemove) != nil {
		t.Fatalf("run not cleared")
	}
}

func TestUnknownCommandAndProjects(t *testing.T) {
	t.Parallel()

	e, _ := startEngine(t, newMemStore(), newFakeExec(nil))
	if _, err := e.Do(context.Background(), Command{Type: "explode"}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err=%v", err)
	}
	if _, err := e.Do(context.Background(), Command{Type: CmdStartProject, ProjectID: "missing"}); !faults.Is(err, faults.KindNotFound) {
		t.Fatalf("err=%v", err)
	}
	if _, err := e.Do(context.Background(), Command{Type: CmdSaveProject, Project: &model.Project{}}); !faults.Is(err, faults.KindConfig) {
		t.Fatalf("err=%v", err)
	}

	id := do(t, e, Command{Type: CmdSaveProject, Project: campaignProject("", 1)}).Project.ID
	if _, err := e.Do(context.Background(), Command{Type: CmdStartProject, ProjectID: id}); !faults.Is(err, faults.KindConfig) {
		t.Fatalf("start without pool err=%v", err)
	}
	do(t, e, Command{Type: CmdStopProject, ProjectID: id})
	if p := model.FindProject(e.Snapshot().Projects, id); p.Status != model.ProjectStopped {
		t.Fatalf("status=%s", p.Status)
	}
	do(t, e, Command{Type: CmdDeleteProject, ProjectID: id})
	if len(e.Snapshot().Projects) != 0 {
		t.Fatalf("project not deleted")
	}
}

func TestDoBeforeStart(t *testing.T) {
	t.Parallel()

	e := New(Config{}, newMemStore(), nil, logx.Nop(), nil)
	if _, err := e.Do(context.Background(), Command{Type: CmdStop}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err=%v", err)
	}
}
