package model

import (
	"encoding/json"
	"testing"

	"linkrunner/internal/faults"
)

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"https://www.Example.com/wp-admin/", "example.com"},
		{"http://blog.example.com|admin|secret", "blog.example.com"},
		{"  WWW.site.org  ", "site.org"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeHost(tt.in); got != tt.want {
			t.Errorf("NormalizeHost(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	if NormalizeURL("https://www.Money.com/") != NormalizeURL("http://money.com") {
		t.Fatalf("expected scheme, www and trailing slash to be ignored")
	}
	if NormalizeURL("https://money.com/a") == NormalizeURL("https://money.com/b") {
		t.Fatalf("different paths must not match")
	}
}

func TestFlexInt(t *testing.T) {
	t.Parallel()

	var v struct {
		A FlexInt `json:"a"`
		B FlexInt `json:"b"`
		C FlexInt `json:"c"`
		D FlexInt `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a":5,"b":"7","c":"","d":null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != 5 || v.B != 7 || v.C != 0 || v.D != 0 {
		t.Fatalf("got %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a":"x"}`), &v); err == nil {
		t.Fatalf("expected error for non-numeric string")
	}
}

func TestSettingsLegacyKeys(t *testing.T) {
	t.Parallel()

	raw := `{"execution":{"projectThreads":"2","domainThreads":3,"delaySeconds":"1.5","maxRetries":1},
		"proxies":["1.2.3.4:8080","u:p@5.6.7.8:3128",{"ip":"9.9.9.9","port":80,"user":"a","pass":"b","status":"ok"}]}`
	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	x := s.Execution
	if x.ProjectConcurrency != 2 || x.TaskConcurrency != 3 || x.DelaySeconds != 1.5 || x.MaxRetries != 1 {
		t.Fatalf("execution=%+v", x)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(s.Proxies) != 3 {
		t.Fatalf("proxies=%d", len(s.Proxies))
	}
	if s.Proxies[1].User != "u" || s.Proxies[1].Port != "3128" {
		t.Fatalf("proxy[1]=%+v", s.Proxies[1])
	}
	if s.Proxies[2].Port != "80" || s.Proxies[2].Status != "ok" {
		t.Fatalf("proxy[2]=%+v", s.Proxies[2])
	}

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	_ = json.Unmarshal(b, &back)
	ex := back["execution"].(map[string]any)
	if _, ok := ex["taskConcurrency"]; !ok {
		t.Fatalf("expected canonical keys on write, got %s", b)
	}
	if _, ok := back["proxies"].([]any)[0].(map[string]any); !ok {
		t.Fatalf("proxies must be written as objects: %s", b)
	}
}

func TestSettingsRejectsOutOfRangeIntegers(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"execution":{"taskConcurrency":1e30}}`,
		`{"execution":{"maxRetries":"-3e9"}}`,
		`{"execution":{"projectConcurrency":2.5}}`,
	} {
		var s Settings
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			t.Errorf("%s: expected error, got %+v", raw, s.Execution)
		}
	}
	var s Settings
	if err := json.Unmarshal([]byte(`{"execution":{"taskConcurrency":2147483647}}`), &s); err != nil {
		t.Fatalf("int32 max rejected: %v", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	base := DefaultSettings()
	tests := []struct {
		name string
		mut  func(*Settings)
		ok   bool
	}{
		{"default", func(*Settings) {}, true},
		{"zero projects", func(s *Settings) { s.Execution.ProjectConcurrency = 0 }, false},
		{"zero tasks", func(s *Settings) { s.Execution.TaskConcurrency = 0 }, false},
		{"negative delay", func(s *Settings) { s.Execution.DelaySeconds = -1 }, false},
		{"negative retries", func(s *Settings) { s.Execution.MaxRetries = -1 }, false},
	}
	for _, tt := range tests {
		s := base
		tt.mut(&s)
		err := s.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("%s: expected error", tt.name)
			} else if !faults.Is(err, faults.KindConfig) {
				t.Errorf("%s: expected config error, got %v", tt.name, err)
			}
		}
	}
}

func TestParseProxy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Proxy
		wantErr bool
	}{
		{in: "1.2.3.4:8080", want: Proxy{IP: "1.2.3.4", Port: "8080"}},
		{in: "http://u:p@1.2.3.4:8080", want: Proxy{IP: "1.2.3.4", Port: "8080", User: "u", Pass: "p"}},
		{in: "1.2.3.4:8080:u:p", want: Proxy{IP: "1.2.3.4", Port: "8080", User: "u", Pass: "p"}},
		{in: "1.2.3.4", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseProxy(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		got.Status = ""
		if got != tt.want {
			t.Errorf("%q: got %+v want %+v", tt.in, got, tt.want)
		}
	}

	p, _ := ParseProxy("u:p@1.2.3.4:8080")
	if p.URL().String() != "http://u:p@1.2.3.4:8080" {
		t.Fatalf("url=%s", p.URL())
	}
	if p.String() != "u:***@1.2.3.4:8080" {
		t.Fatalf("string=%s", p.String())
	}
}

func TestPoolResolver(t *testing.T) {
	t.Parallel()

	r := NewPoolResolver("main", []string{
		"https://www.alpha.com|admin|pw1",
		"beta.com|editor|pw|with|pipes",
		"broken-line",
	})
	if r.Len() != 2 {
		t.Fatalf("len=%d", r.Len())
	}
	c, err := r.Resolve("http://alpha.com/")
	if err != nil || c.Username != "admin" || c.Password != "pw1" {
		t.Fatalf("alpha: %+v %v", c, err)
	}
	c, err = r.Resolve("beta.com")
	if err != nil || c.Password != "pw|with|pipes" {
		t.Fatalf("beta: %+v %v", c, err)
	}
	c, err = r.Resolve("gamma.com|u|p")
	if err != nil || c.SiteURL != "gamma.com" {
		t.Fatalf("embedded: %+v %v", c, err)
	}
	if _, err := r.Resolve("missing.com"); !faults.Is(err, faults.KindCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestRunRecoverAfterCrash(t *testing.T) {
	t.Parallel()

	r := &Run{
		Running: true,
		Mode:    ModeEdit,
		Rows: []*Record{
			{ID: "1", Status: StatusSuccess},
			{ID: "2", Status: StatusRunning, Message: "Executing"},
			{ID: "3", Status: StatusPending},
			{ID: "4", Status: StatusFailed, Message: "HTTP 500"},
		},
	}
	if !r.RecoverAfterCrash() {
		t.Fatalf("expected change")
	}
	if r.Running {
		t.Fatalf("running must be cleared")
	}
	if r.Rows[0].Status != StatusSuccess || r.Rows[0].Message != MsgDone {
		t.Fatalf("success row=%+v", r.Rows[0])
	}
	if r.Rows[1].Status != StatusStopped || r.Rows[1].Message != MsgAppClosed {
		t.Fatalf("running row=%+v", r.Rows[1])
	}
	if r.Rows[2].Status != StatusPending || r.Rows[3].Status != StatusFailed {
		t.Fatalf("untouched rows changed: %+v %+v", r.Rows[2], r.Rows[3])
	}
	if r.RecoverAfterCrash() {
		t.Fatalf("second recovery must be a no-op")
	}
}

func TestProjectRunnable(t *testing.T) {
	t.Parallel()

	p := &Project{
		Status: ProjectRunning,
		Run: &Campaign{Target: 2, Domains: []*Record{
			{Status: StatusSuccess},
			{Status: StatusFailed},
			{Status: StatusUnused, Role: RoleExtra},
		}},
	}
	if !p.Runnable() {
		t.Fatalf("project needing promotion must be runnable")
	}
	p.Run.Domains[1].Status = StatusSuccess
	if p.Runnable() {
		t.Fatalf("project at target with no pending must not be runnable")
	}
	p.Run.Domains[2].Status = StatusRunning
	if !p.RecoverAfterCrash() || p.Run.Domains[2].Status != StatusPending || p.Run.Domains[2].Message != MsgInterrupted {
		t.Fatalf("recover=%+v", p.Run.Domains[2])
	}
	p.Status = ProjectStopped
	if p.Runnable() {
		t.Fatalf("stopped project must not be runnable")
	}
}

func TestProjectCloneIsDeep(t *testing.T) {
	t.Parallel()

	idx := 0
	p := &Project{ID: "p", Run: &Campaign{Domains: []*Record{{ID: "r", SetIndex: &idx, Status: StatusPending}}}}
	cp := p.Clone()
	cp.Run.Domains[0].Status = StatusSuccess
	*cp.Run.Domains[0].SetIndex = 9
	if p.Run.Domains[0].Status != StatusPending || *p.Run.Domains[0].SetIndex != 0 {
		t.Fatalf("clone shares state with original")
	}
}
