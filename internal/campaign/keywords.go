package campaign

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"linkrunner/internal/faults"
	"linkrunner/internal/model"
)

// Keyword is one parsed keyword line. Qty is 0 when the line carries no count.
type Keyword struct {
	Text string
	Qty  int
}

var (
	reParenQty  = regexp.MustCompile(`^(.*)\((\d+)\)$`)
	reSepQty    = regexp.MustCompile(`^(.*?)[:@]\s*(\d+)(?:\s+\w+)?$`)
	reLeadQty   = regexp.MustCompile(`^(\d+)\s+(.*)$`)
	reTrailQty  = regexp.MustCompile(`^(.*)\s+(\d+)$`)
	reStripKw   = regexp.MustCompile(`[@():\-]`)
	reCollapse  = regexp.MustCompile(`\s+`)
	qtyPatterns = []struct {
		re      *regexp.Regexp
		kw, qty int
	}{
		{reParenQty, 1, 2},
		{reSepQty, 1, 2},
		{reLeadQty, 2, 1},
		{reTrailQty, 1, 2},
	}
)

// Lines splits operator text into trimmed non-empty lines.
func Lines(raw string) []string {
	var out []string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ParseKeywordLines understands "kw (3)", "kw: 3", "kw @ 3", "3 kw" and "kw 3".
// Punctuation used by those forms is stripped from the keyword itself.
func ParseKeywordLines(raw string) []Keyword {
	lines := Lines(raw)
	out := make([]Keyword, 0, len(lines))
	for _, line := range lines {
		text, qty := line, 0
		for _, p := range qtyPatterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			text = strings.TrimSpace(m[p.kw])
			qty, _ = strconv.Atoi(m[p.qty])
			break
		}
		text = reStripKw.ReplaceAllString(text, " ")
		text = strings.TrimSpace(reCollapse.ReplaceAllString(text, " "))
		if qty < 0 {
			qty = 0
		}
		out = append(out, Keyword{Text: text, Qty: qty})
	}
	return out
}

// ExpandLines repeats "line (n)" n times.
func ExpandLines(raw string) []string {
	var out []string
	for _, line := range Lines(raw) {
		if m := reParenQty.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			v := strings.TrimSpace(m[1])
			for i := 0; i < n; i++ {
				out = append(out, v)
			}
			continue
		}
		out = append(out, line)
	}
	return out
}

// BuildKeywordTasks returns exactly RequiredLinks keywords for one set:
// explicit quantities first, then keywords without a count round-robin.
func BuildKeywordTasks(set model.KeywordSet, index int) ([]string, error) {
	label := fmt.Sprintf("set %d", index+1)
	if strings.TrimSpace(set.Keywords) == "" {
		return nil, faults.Configf("%s: no keywords", label)
	}
	required := set.RequiredLinks.Int()
	if required <= 0 {
		return nil, faults.Configf("%s: required links must be greater than 0", label)
	}
	parsed := ParseKeywordLines(set.Keywords)
	if len(parsed) == 0 {
		return nil, faults.Configf("%s: no valid keywords", label)
	}

	out := make([]string, 0, required)
	var pool []string
	for _, k := range parsed {
		if k.Qty == 0 {
			pool = append(pool, k.Text)
			continue
		}
		for i := 0; i < k.Qty; i++ {
			out = append(out, k.Text)
		}
	}
	if len(out) > required {
		return nil, faults.Configf("%s: keyword quantities (%d) exceed required links (%d)", label, len(out), required)
	}
	if len(out) < required && len(pool) == 0 {
		return nil, faults.Configf("%s: not enough keywords to fill %d links", label, required)
	}
	for i := 0; len(out) < required; i++ {
		out = append(out, pool[i%len(pool)])
	}
	return out, nil
}
