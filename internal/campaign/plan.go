// Package campaign materializes a project's declarative config into the
// task records the scheduler works through.
package campaign

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"linkrunner/internal/faults"
	"linkrunner/internal/model"
)

type slot struct {
	url, keyword string
	setIndex     *int
}

// Materialize builds a fresh campaign from cfg against the named pool.
// Primaries take pool lines in order; the rest of the pool is held in reserve
// as Unused extras (backups in sheet mode).
func Materialize(cfg model.ProjectConfig, pools model.DomainPools, now time.Time) (*model.Campaign, error) {
	name := strings.TrimSpace(cfg.DomainSet)
	if name == "" {
		return nil, faults.Configf("no domain set selected")
	}
	pool, ok := pools[name]
	if !ok {
		return nil, faults.Configf("unknown domain set %q", name)
	}
	pool = Lines(strings.Join(pool, "\n"))

	if cfg.IsSheet() {
		return materializeSheet(cfg, name, pool, now)
	}

	slots, target, err := planSlots(cfg)
	if err != nil {
		return nil, err
	}
	if len(pool) < target {
		return nil, faults.Configf("not enough domains: need %d, pool %q has %d", target, name, len(pool))
	}

	c := &model.Campaign{StartedAt: now.UnixMilli(), DomainSet: name, Target: target}
	for i, s := range slots {
		c.Domains = append(c.Domains, &model.Record{
			ID:       uuid.NewString(),
			Domain:   pool[i],
			URL:      s.url,
			Keyword:  s.keyword,
			SetIndex: s.setIndex,
			Role:     model.RolePrimary,
			Status:   model.StatusPending,
		})
	}
	for _, line := range pool[len(slots):] {
		c.Domains = append(c.Domains, &model.Record{
			ID:     uuid.NewString(),
			Domain: line,
			Role:   model.RoleExtra,
			Status: model.StatusUnused,
		})
	}
	return c, nil
}

// planSlots expands every keyword set into (url, keyword) pairs and checks
// that the desired total equals the sum of the sets.
func planSlots(cfg model.ProjectConfig) ([]slot, int, error) {
	if len(cfg.KeywordSets) == 0 {
		return nil, 0, faults.Configf("no keyword sets")
	}
	var (
		out   []slot
		total int
	)
	for i, set := range cfg.KeywordSets {
		urls := ExpandLines(set.URLs)
		if len(urls) == 0 {
			return nil, 0, faults.Configf("set %d: no urls", i+1)
		}
		kws, err := BuildKeywordTasks(set, i)
		if err != nil {
			return nil, 0, err
		}
		for j, kw := range kws {
			idx := i
			out = append(out, slot{url: urls[j%len(urls)], keyword: kw, setIndex: &idx})
		}
		total += set.RequiredLinks.Int()
	}
	target := cfg.DesiredTotalLinks.Int()
	if target <= 0 || target != total {
		return nil, 0, faults.Configf("target links (%d) must equal the sum of all sets (%d)", target, total)
	}
	return out, target, nil
}

func materializeSheet(cfg model.ProjectConfig, name string, pool []string, now time.Time) (*model.Campaign, error) {
	domains := Lines(cfg.SheetDomains)
	urls := Lines(cfg.SheetURLs)
	keywords := Lines(cfg.SheetKeywords)
	if len(domains) == 0 || len(urls) == 0 || len(keywords) == 0 {
		return nil, faults.Configf("sheet mode: domains, urls and keywords are all required")
	}
	if len(domains) != len(urls) || len(domains) != len(keywords) {
		return nil, faults.Configf("sheet mode: domains (%d), urls (%d) and keywords (%d) must have the same number of lines",
			len(domains), len(urls), len(keywords))
	}
	if len(pool) < len(domains) {
		return nil, faults.Configf("sheet mode: need %d domains, pool %q has %d", len(domains), name, len(pool))
	}

	byHost := make(map[string]int, len(pool))
	for i, line := range pool {
		h := model.NormalizeHost(line)
		if _, dup := byHost[h]; !dup {
			byHost[h] = i
		}
	}

	c := &model.Campaign{StartedAt: now.UnixMilli(), DomainSet: name, Target: len(domains)}
	used := make(map[int]bool, len(domains))
	seen := make(map[string]bool, len(domains))
	for i, d := range domains {
		h := model.NormalizeHost(d)
		if seen[h] {
			return nil, faults.Configf("sheet mode: duplicate domain %s", d)
		}
		seen[h] = true
		at, ok := byHost[h]
		if !ok {
			return nil, faults.Configf("sheet mode: domain not found in set %q: %s", name, d)
		}
		used[at] = true
		c.Domains = append(c.Domains, &model.Record{
			ID:      uuid.NewString(),
			Domain:  pool[at],
			URL:     urls[i],
			Keyword: keywords[i],
			Role:    model.RolePrimary,
			Status:  model.StatusPending,
		})
	}
	for i, line := range pool {
		if used[i] {
			continue
		}
		c.Domains = append(c.Domains, &model.Record{
			ID:     uuid.NewString(),
			Domain: line,
			Role:   model.RoleBackup,
			Status: model.StatusUnused,
		})
	}
	return c, nil
}

// Reapply folds an edited keyword config into an existing campaign without
// touching Success records. Planned content is written onto the remaining
// primaries in order; Failed records keep their status, others go back to Pending.
func Reapply(c *model.Campaign, cfg model.ProjectConfig) error {
	if c == nil || cfg.IsSheet() {
		return nil
	}
	slots, target, err := planSlots(cfg)
	if err != nil {
		return err
	}
	c.Target = target

	next := 0
	for _, s := range slots {
		var row *model.Record
		for next < len(c.Domains) {
			cand := c.Domains[next]
			next++
			if cand.Status != model.StatusSuccess && cand.Status != model.StatusUnused {
				row = cand
				break
			}
		}
		if row == nil {
			break
		}
		row.URL, row.Keyword = s.url, s.keyword
		if s.setIndex != nil {
			v := *s.setIndex
			row.SetIndex = &v
		}
		if row.Status != model.StatusFailed {
			row.Status = model.StatusPending
			row.Message = ""
		}
	}
	return nil
}

// Promote moves up to n Unused records to Pending and returns how many it moved.
// A promoted record takes over the content of a Failed record that has not yet
// been handed to another replacement; if none is left it reuses primary content
// round-robin.
func Promote(c *model.Campaign, n int) int {
	if c == nil || n <= 0 {
		return 0
	}
	var orphans []*model.Record
	var content []*model.Record
	for _, d := range c.Domains {
		if d.Role != model.RolePrimary && d.Status == model.StatusUnused {
			continue
		}
		if d.URL == "" {
			continue
		}
		content = append(content, d)
		if d.Status == model.StatusFailed && d.ReplacedBy == "" {
			orphans = append(orphans, d)
		}
	}

	moved := 0
	for _, d := range c.Domains {
		if moved >= n {
			break
		}
		if d.Status != model.StatusUnused {
			continue
		}
		var src *model.Record
		switch {
		case len(orphans) > 0:
			src, orphans = orphans[0], orphans[1:]
			src.ReplacedBy = d.ID
		case len(content) > 0:
			src = content[moved%len(content)]
		}
		if src != nil && d.URL == "" {
			d.URL, d.Keyword = src.URL, src.Keyword
			if src.SetIndex != nil {
				v := *src.SetIndex
				d.SetIndex = &v
			}
		}
		d.Status = model.StatusPending
		d.Message = ""
		moved++
	}
	return moved
}

// Describe is a one-line summary used by the CLI planner and logs.
func Describe(c *model.Campaign) string {
	if c == nil {
		return "no campaign"
	}
	primaries := 0
	for _, d := range c.Domains {
		if d.Role == model.RolePrimary {
			primaries++
		}
	}
	return fmt.Sprintf("target=%d primaries=%d reserve=%d set=%s", c.Target, primaries, len(c.Domains)-primaries, c.DomainSet)
}
