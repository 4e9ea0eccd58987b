package campaign

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"linkrunner/internal/faults"
	"linkrunner/internal/model"
)

func TestParseKeywordLines(t *testing.T) {
	t.Parallel()

	got := ParseKeywordLines("best loans (3)\ncheap cars: 2\nfast bikes @ 4\n5 red shoes\nblue hats 6\nplain keyword\n\n  spaced - out  ")
	want := []Keyword{
		{"best loans", 3},
		{"cheap cars", 2},
		{"fast bikes", 4},
		{"red shoes", 5},
		{"blue hats", 6},
		{"plain keyword", 0},
		{"spaced out", 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
}

func TestExpandLines(t *testing.T) {
	t.Parallel()

	got := ExpandLines("https://a.com (2)\nhttps://b.com\n")
	want := []string{"https://a.com", "https://a.com", "https://b.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBuildKeywordTasks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		set     model.KeywordSet
		want    []string
		wantErr string
	}{
		{
			name: "explicit then round robin",
			set:  model.KeywordSet{Keywords: "a (2)\nb\nc", RequiredLinks: 5},
			want: []string{"a", "a", "b", "c", "b"},
		},
		{
			name: "exact explicit",
			set:  model.KeywordSet{Keywords: "a: 1\nb @ 1", RequiredLinks: 2},
			want: []string{"a", "b"},
		},
		{name: "no keywords", set: model.KeywordSet{Keywords: " ", RequiredLinks: 1}, wantErr: "no keywords"},
		{name: "zero required", set: model.KeywordSet{Keywords: "a", RequiredLinks: 0}, wantErr: "greater than 0"},
		{name: "exceeds", set: model.KeywordSet{Keywords: "a (3)", RequiredLinks: 2}, wantErr: "exceed"},
		{name: "not enough", set: model.KeywordSet{Keywords: "a (1)", RequiredLinks: 2}, wantErr: "not enough"},
	}
	for _, tt := range tests {
		got, err := BuildKeywordTasks(tt.set, 0)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("%s: err=%v want containing %q", tt.name, err, tt.wantErr)
			}
			if err != nil && !faults.Is(err, faults.KindConfig) {
				t.Errorf("%s: expected config error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func pools() model.DomainPools {
	return model.DomainPools{"main": {
		"a.com|u|p",
		"b.com|u|p",
		"c.com|u|p",
		"d.com|u|p",
	}}
}

func TestMaterializeScenario(t *testing.T) {
	t.Parallel()

	cfg := model.ProjectConfig{
		DomainSet:         "main",
		DesiredTotalLinks: 2,
		KeywordSets: []model.KeywordSet{
			{URLs: "https://money.com", Keywords: "loans", RequiredLinks: 2},
		},
	}
	now := time.UnixMilli(1700000000000)
	c, err := Materialize(cfg, pools(), now)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if c.Target != 2 || c.StartedAt != now.UnixMilli() || len(c.Domains) != 4 {
		t.Fatalf("campaign=%+v", c)
	}
	for i, d := range c.Domains[:2] {
		if d.Status != model.StatusPending || d.Role != model.RolePrimary || d.URL != "https://money.com" || d.Keyword != "loans" {
			t.Fatalf("primary %d=%+v", i, d)
		}
		if d.SetIndex == nil || *d.SetIndex != 0 {
			t.Fatalf("primary %d setIndex=%v", i, d.SetIndex)
		}
	}
	for i, d := range c.Domains[2:] {
		if d.Status != model.StatusUnused || d.Role != model.RoleExtra || d.URL != "" {
			t.Fatalf("extra %d=%+v", i, d)
		}
	}
	if c.Domains[0].Domain != "a.com|u|p" || c.Domains[3].Domain != "d.com|u|p" {
		t.Fatalf("pool order not preserved")
	}
	ids := map[string]bool{}
	for _, d := range c.Domains {
		if d.ID == "" || ids[d.ID] {
			t.Fatalf("row ids must be unique and non-empty")
		}
		ids[d.ID] = true
	}
}

func TestMaterializeErrors(t *testing.T) {
	t.Parallel()

	base := model.ProjectConfig{
		DomainSet:         "main",
		DesiredTotalLinks: 2,
		KeywordSets:       []model.KeywordSet{{URLs: "u", Keywords: "k", RequiredLinks: 2}},
	}
	tests := []struct {
		name string
		mut  func(*model.ProjectConfig)
		want string
	}{
		{"no set", func(c *model.ProjectConfig) { c.DomainSet = "" }, "no domain set"},
		{"unknown set", func(c *model.ProjectConfig) { c.DomainSet = "x" }, "unknown domain set"},
		{"target mismatch", func(c *model.ProjectConfig) { c.DesiredTotalLinks = 3 }, "must equal"},
		{"pool too small", func(c *model.ProjectConfig) {
			c.DesiredTotalLinks = 5
			c.KeywordSets[0].RequiredLinks = 5
		}, "not enough domains"},
		{"no urls", func(c *model.ProjectConfig) { c.KeywordSets[0].URLs = "" }, "no urls"},
	}
	for _, tt := range tests {
		cfg := base
		cfg.KeywordSets = append([]model.KeywordSet(nil), base.KeywordSets...)
		tt.mut(&cfg)
		_, err := Materialize(cfg, pools(), time.Now())
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err=%v want containing %q", tt.name, err, tt.want)
		}
	}
}

func TestMaterializeSheet(t *testing.T) {
	t.Parallel()

	cfg := model.ProjectConfig{
		DomainSet:     "main",
		Mode:          "sheet",
		SheetDomains:  "https://c.com\nA.com",
		SheetURLs:     "https://x.com\nhttps://y.com",
		SheetKeywords: "kx\nky",
	}
	c, err := Materialize(cfg, pools(), time.Now())
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if c.Target != 2 || len(c.Domains) != 4 {
		t.Fatalf("campaign=%s", Describe(c))
	}
	if c.Domains[0].Domain != "c.com|u|p" || c.Domains[0].Keyword != "kx" {
		t.Fatalf("row0=%+v", c.Domains[0])
	}
	if c.Domains[1].Domain != "a.com|u|p" || c.Domains[1].URL != "https://y.com" {
		t.Fatalf("row1=%+v", c.Domains[1])
	}
	for _, d := range c.Domains[2:] {
		if d.Role != model.RoleBackup || d.Status != model.StatusUnused {
			t.Fatalf("backup=%+v", d)
		}
		if d.Domain == "a.com|u|p" || d.Domain == "c.com|u|p" {
			t.Fatalf("backup duplicates a primary: %s", d.Domain)
		}
	}

	bad := cfg
	bad.SheetKeywords = "only-one"
	if _, err := Materialize(bad, pools(), time.Now()); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	bad = cfg
	bad.SheetDomains = "a.com\na.com"
	if _, err := Materialize(bad, pools(), time.Now()); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	bad = cfg
	bad.SheetDomains = "zzz.com\na.com"
	if _, err := Materialize(bad, pools(), time.Now()); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestPromoteInheritsFailedContent(t *testing.T) {
	t.Parallel()

	c := &model.Campaign{Target: 2, Domains: []*model.Record{
		{ID: "a", Role: model.RolePrimary, Status: model.StatusSuccess, URL: "u1", Keyword: "k1"},
		{ID: "b", Role: model.RolePrimary, Status: model.StatusFailed, URL: "u2", Keyword: "k2"},
		{ID: "c", Role: model.RoleExtra, Status: model.StatusUnused},
		{ID: "d", Role: model.RoleExtra, Status: model.StatusUnused},
	}}
	if n := Promote(c, 1); n != 1 {
		t.Fatalf("promoted %d want 1", n)
	}
	x := c.Domains[2]
	if x.Status != model.StatusPending || x.URL != "u2" || x.Keyword != "k2" {
		t.Fatalf("promoted=%+v", x)
	}
	if c.Domains[1].ReplacedBy != "c" {
		t.Fatalf("failed record not marked as replaced")
	}
	if c.Domains[3].Status != model.StatusUnused {
		t.Fatalf("promotion exceeded requested count")
	}

	// A second failure of the replacement hands its content on again.
	x.Status = model.StatusFailed
	if n := Promote(c, 5); n != 1 {
		t.Fatalf("promoted %d want 1", n)
	}
	if c.Domains[3].URL != "u2" {
		t.Fatalf("second replacement=%+v", c.Domains[3])
	}
}

func TestReapplyKeepsSuccess(t *testing.T) {
	t.Parallel()

	cfg := model.ProjectConfig{
		DomainSet:         "main",
		DesiredTotalLinks: 2,
		KeywordSets:       []model.KeywordSet{{URLs: "old", Keywords: "old", RequiredLinks: 2}},
	}
	c, err := Materialize(cfg, pools(), time.Now())
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	c.Domains[0].Status = model.StatusSuccess
	c.Domains[1].Status = model.StatusFailed
	c.Domains[1].Message = "HTTP 500"

	cfg.KeywordSets[0].URLs = "new"
	cfg.KeywordSets[0].Keywords = "fresh"
	if err := Reapply(c, cfg); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if c.Domains[0].URL != "old" || c.Domains[0].Status != model.StatusSuccess {
		t.Fatalf("success row touched: %+v", c.Domains[0])
	}
	if c.Domains[1].URL != "new" || c.Domains[1].Keyword != "fresh" || c.Domains[1].Status != model.StatusFailed {
		t.Fatalf("failed row=%+v", c.Domains[1])
	}
	if c.Domains[2].Status != model.StatusUnused {
		t.Fatalf("extras must stay in reserve")
	}
}
