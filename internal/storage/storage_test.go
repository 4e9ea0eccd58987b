package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"linkrunner/internal/engine"
	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

var _ engine.Store = (*Store)(nil)

func openDrivers(t *testing.T) map[string]*Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]*Store{}
	for driver, path := range map[string]string{
		"file":   filepath.Join(dir, "data"),
		"sqlite": filepath.Join(dir, "state.db"),
	} {
		s, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", driver, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		out[driver] = s
	}
	return out
}

func TestMissingDocumentsUseDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for driver, s := range openDrivers(t) {
		st, err := s.LoadSettings(ctx)
		if err != nil || st.Execution.TaskConcurrency != 1 || st.Proxies == nil {
			t.Fatalf("%s settings=%+v err=%v", driver, st, err)
		}
		pools, err := s.LoadPools(ctx)
		if err != nil || pools == nil || len(pools) != 0 {
			t.Fatalf("%s pools=%v err=%v", driver, pools, err)
		}
		ps, err := s.LoadProjects(ctx)
		if err != nil || len(ps) != 0 {
			t.Fatalf("%s projects=%v err=%v", driver, ps, err)
		}
		run, err := s.LoadRun(ctx, model.ModeEdit)
		if err != nil || run != nil {
			t.Fatalf("%s run=%v err=%v", driver, run, err)
		}
	}
}

func TestDocumentsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for driver, s := range openDrivers(t) {
		st := model.DefaultSettings()
		st.Execution.DelaySeconds = 1.5
		st.Proxies = []model.Proxy{{IP: "10.0.0.1", Port: "8080", Status: "untested"}}
		if err := s.SaveSettings(ctx, st); err != nil {
			t.Fatalf("%s save settings: %v", driver, err)
		}
		got, err := s.LoadSettings(ctx)
		if err != nil || got.Execution.DelaySeconds != 1.5 || got.Proxies[0].Addr() != "10.0.0.1:8080" {
			t.Fatalf("%s settings=%+v err=%v", driver, got, err)
		}

		if err := s.SavePools(ctx, model.DomainPools{"main": {"a.com|u|p"}}); err != nil {
			t.Fatalf("%s save pools: %v", driver, err)
		}
		pools, _ := s.LoadPools(ctx)
		if len(pools["main"]) != 1 {
			t.Fatalf("%s pools=%v", driver, pools)
		}

		run := &model.Run{Mode: model.ModeRemove, Running: true, Rows: []*model.Record{{ID: "1", Domain: "a.com", Status: model.StatusPending}}}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("%s save run: %v", driver, err)
		}
		back, err := s.LoadRun(ctx, model.ModeRemove)
		if err != nil || back == nil || back.Rows[0].Domain != "a.com" || !back.Running {
			t.Fatalf("%s run=%+v err=%v", driver, back, err)
		}
		if err := s.ClearRun(ctx, model.ModeRemove); err != nil {
			t.Fatalf("%s clear: %v", driver, err)
		}
		if back, _ := s.LoadRun(ctx, model.ModeRemove); back != nil {
			t.Fatalf("%s run survived clear", driver)
		}
		if err := s.ClearRun(ctx, model.ModeRemove); err != nil {
			t.Fatalf("%s clear twice: %v", driver, err)
		}
	}
}

func TestCorruptDocumentRestoresBackup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for driver, s := range openDrivers(t) {
		ps := []*model.Project{{ID: "p1", Name: "money"}}
		if err := s.SaveProjects(ctx, ps); err != nil {
			t.Fatalf("%s save: %v", driver, err)
		}
		if err := s.b.put(ctx, DocProjects, []byte(`[{"id": "p1", `)); err != nil {
			t.Fatalf("%s corrupt: %v", driver, err)
		}
		got, err := s.LoadProjects(ctx)
		if err != nil || len(got) != 1 || got[0].Name != "money" {
			t.Fatalf("%s projects=%v err=%v", driver, got, err)
		}
		again, err := s.LoadProjects(ctx)
		if err != nil || len(again) != 1 {
			t.Fatalf("%s backup was not restored: %v %v", driver, again, err)
		}
	}
}

func TestCorruptDocumentWithoutBackupIsConfigError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for driver, s := range openDrivers(t) {
		if err := s.b.put(ctx, DocEditRun, []byte(`{"rows": [], "mode": "edit", "surprise": true}`)); err != nil {
			t.Fatalf("%s put: %v", driver, err)
		}
		_, err := s.LoadRun(ctx, model.ModeEdit)
		if !faults.Is(err, faults.KindConfig) {
			t.Fatalf("%s err=%v", driver, err)
		}
		// The broken body was moved aside.
		if run, err := s.LoadRun(ctx, model.ModeEdit); err != nil || run != nil {
			t.Fatalf("%s after quarantine run=%v err=%v", driver, run, err)
		}
	}
}

func TestUnknownStatusIsTreatedAsCorrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for driver, s := range openDrivers(t) {
		ps := []*model.Project{{ID: "p1", Name: "money", Status: model.ProjectRunning, Run: &model.Campaign{
			Target: 1, Domains: []*model.Record{{ID: "x", Domain: "a.com", Status: model.StatusPending}},
		}}}
		if err := s.SaveProjects(ctx, ps); err != nil {
			t.Fatalf("%s save: %v", driver, err)
		}
		drifted := `[{"id": "p1", "name": "money", "status": "running", "config": {}}]`
		if err := s.b.put(ctx, DocProjects, []byte(drifted)); err != nil {
			t.Fatalf("%s put: %v", driver, err)
		}
		got, err := s.LoadProjects(ctx)
		if err != nil || len(got) != 1 || got[0].Status != model.ProjectRunning || !got[0].Runnable() {
			t.Fatalf("%s projects=%v err=%v", driver, got, err)
		}

		if err := s.b.put(ctx, DocRemoveRun, []byte(`{"rows": [{"rowId": "1", "status": "succes", "retries": 0, "message": ""}], "mode": "remove"}`)); err != nil {
			t.Fatalf("%s put run: %v", driver, err)
		}
		if _, err := s.LoadRun(ctx, model.ModeRemove); !faults.Is(err, faults.KindConfig) {
			t.Fatalf("%s run err=%v", driver, err)
		}
	}
}

func TestFileQuarantineKeepsBrokenBody(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := os.WriteFile(filepath.Join(dir, DocSettings), []byte(`{"execution": {"maxRetries": "x"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.LoadSettings(ctx); !faults.Is(err, faults.KindConfig) {
		t.Fatalf("err=%v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "quarantine", DocSettings+".*.corrupt"))
	if len(matches) != 1 {
		t.Fatalf("quarantine files=%v", matches)
	}
}

func TestRecoverRewritesCrashedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for driver, s := range openDrivers(t) {
		run := &model.Run{Mode: model.ModeEdit, Running: true, Rows: []*model.Record{
			{ID: "1", Status: model.StatusRunning},
			{ID: "2", Status: model.StatusSuccess},
		}}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("%s save run: %v", driver, err)
		}
		ps := []*model.Project{{ID: "p", Name: "p", Status: model.ProjectRunning, Run: &model.Campaign{
			Target: 1, Domains: []*model.Record{{ID: "x", Status: model.StatusRunning}},
		}}}
		if err := s.SaveProjects(ctx, ps); err != nil {
			t.Fatalf("%s save projects: %v", driver, err)
		}

		rep, err := s.Recover(ctx)
		if err != nil || len(rep.Runs) != 1 || rep.Projects != 1 {
			t.Fatalf("%s report=%+v err=%v", driver, rep, err)
		}
		back, _ := s.LoadRun(ctx, model.ModeEdit)
		if back.Running || back.Rows[0].Status != model.StatusStopped || back.Rows[1].Message != model.MsgDone {
			t.Fatalf("%s run=%+v", driver, back)
		}
		rep, err = s.Recover(ctx)
		if err != nil || len(rep.Runs) != 0 || rep.Projects != 0 {
			t.Fatalf("%s second recover=%+v err=%v", driver, rep, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "etcd", Path: t.TempDir()}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
