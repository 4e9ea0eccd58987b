package model

import "fmt"

// Project is a declarative link-building goal materialized into a Campaign.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	CreatedAt int64         `json:"createdAt,omitempty"`
	Status    ProjectStatus `json:"status,omitempty"`
	Message   string        `json:"message,omitempty"`
	Config    ProjectConfig `json:"config"`
	Run       *Campaign     `json:"run,omitempty"`
}

// ProjectConfig is the campaign definition as edited by the operator.
type ProjectConfig struct {
	DomainSet         string       `json:"domainSet,omitempty"`
	DesiredTotalLinks FlexInt      `json:"desiredTotalLinks,omitempty"`
	KeywordSets       []KeywordSet `json:"keywordSets,omitempty"`

	// Mode "sheet" switches to explicit parallel arrays.
	Mode          string `json:"mode,omitempty"`
	SheetDomains  string `json:"sheetDomains,omitempty"`
	SheetURLs     string `json:"sheetUrls,omitempty"`
	SheetKeywords string `json:"sheetKeywords,omitempty"`
}

func (c ProjectConfig) IsSheet() bool { return c.Mode == "sheet" }

// KeywordSet is one block of URLs plus keywords that must yield RequiredLinks links.
// URLs and Keywords are newline-separated, as typed by the operator.
type KeywordSet struct {
	ID            string  `json:"id,omitempty"`
	URLs          string  `json:"urls"`
	Keywords      string  `json:"keywords"`
	RequiredLinks FlexInt `json:"requiredLinks"`
}

// Campaign is the materialized form of a project.
type Campaign struct {
	StartedAt int64     `json:"startedAt"`
	DomainSet string    `json:"domainSet,omitempty"`
	Target    int       `json:"target"`
	Domains   []*Record `json:"domains"`
}

func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Config.KeywordSets = append([]KeywordSet(nil), p.Config.KeywordSets...)
	if p.Run != nil {
		run := *p.Run
		run.Domains = cloneRecords(p.Run.Domains)
		cp.Run = &run
	}
	return &cp
}

func (p *Project) SuccessCount() int {
	if p == nil || p.Run == nil {
		return 0
	}
	return CountStatus(p.Run.Domains, StatusSuccess)
}

func (p *Project) HasStatus(st Status) bool {
	if p == nil || p.Run == nil {
		return false
	}
	for _, d := range p.Run.Domains {
		if d != nil && d.Status == st {
			return true
		}
	}
	return false
}

// Runnable reports whether the loop has work to do for this project: it is
// Running and either has Pending records or can still promote Unused extras
// toward its target.
func (p *Project) Runnable() bool {
	if p == nil || p.Run == nil || p.Status != ProjectRunning {
		return false
	}
	if p.HasStatus(StatusPending) {
		return true
	}
	return p.SuccessCount() < p.Run.Target && p.HasStatus(StatusUnused)
}

// CheckStatuses rejects an unknown project or record status. An empty
// project status reads as Idle.
func (p *Project) CheckStatuses() error {
	if p == nil {
		return nil
	}
	if p.Status != "" && !p.Status.Valid() {
		return fmt.Errorf("project %s: unknown status %q", p.ID, p.Status)
	}
	if p.Run == nil {
		return nil
	}
	if err := checkRecords(p.Run.Domains); err != nil {
		return fmt.Errorf("project %s: %w", p.ID, err)
	}
	return nil
}

// RecoverAfterCrash puts records left Running by a dead process back in the queue.
func (p *Project) RecoverAfterCrash() bool {
	if p == nil || p.Run == nil {
		return false
	}
	changed := false
	for _, d := range p.Run.Domains {
		if d != nil && d.Status == StatusRunning {
			d.Status = StatusPending
			d.Message = MsgInterrupted
			changed = true
		}
	}
	return changed
}

func FindProject(ps []*Project, id string) *Project {
	for _, p := range ps {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

func CloneProjects(ps []*Project) []*Project {
	if ps == nil {
		return nil
	}
	out := make([]*Project, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Clone())
	}
	return out
}
