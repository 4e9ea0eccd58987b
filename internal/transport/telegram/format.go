package telegram

import (
	"fmt"
	"html"
	"strings"

	"linkrunner/internal/engine"
	"linkrunner/internal/eventbus"
	"linkrunner/internal/model"
)

const textLimit = 4000

func escape(s string) string { return html.EscapeString(s) }

func formatStatus(s engine.Snapshot) string {
	var sb strings.Builder
	state := "idle"
	if s.EngineRunning {
		state = "running"
	}
	fmt.Fprintf(&sb, "<b>Engine</b>: %s\n", state)
	for _, run := range []*model.Run{s.Run, s.RemoveRun} {
		if run == nil {
			continue
		}
		fmt.Fprintf(&sb, "<b>%s run</b>: %s\n", escape(string(run.Mode)), runCounts(run))
	}
	if len(s.Projects) == 0 {
		sb.WriteString("No projects.\n")
		return sb.String()
	}
	sb.WriteString("<b>Projects</b>\n")
	for _, p := range s.Projects {
		sb.WriteString(projectLine(p))
	}
	return sb.String()
}

func runCounts(run *model.Run) string {
	rows := run.Rows
	parts := []string{fmt.Sprintf("%d rows", len(rows))}
	for _, st := range []model.Status{model.StatusSuccess, model.StatusFailed, model.StatusPending, model.StatusRunning, model.StatusStopped} {
		if n := model.CountStatus(rows, st); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(string(st))))
		}
	}
	if run.Running {
		parts = append(parts, fmt.Sprintf("active at row %d", run.Index+1))
	}
	return strings.Join(parts, ", ")
}

func projectLine(p *model.Project) string {
	target := 0
	if p.Run != nil {
		target = p.Run.Target
	}
	status := string(p.Status)
	if status == "" {
		status = string(model.ProjectIdle)
	}
	line := fmt.Sprintf("• %s: %s (%d/%d)", escape(p.Name), escape(status), p.SuccessCount(), target)
	if p.Message != "" {
		line += " <i>" + escape(p.Message) + "</i>"
	}
	return line + "\n"
}

func formatEvent(ev eventbus.Event) string {
	switch d := ev.Data.(type) {
	case engine.ProjectEvent:
		icon, verb := "🎯", "completed"
		if ev.Type == eventbus.TypeProjectBlocked {
			icon, verb = "⛔", "blocked"
		}
		s := fmt.Sprintf("%s Project <b>%s</b> %s: %d/%d", icon, escape(d.Name), verb, d.Success, d.Target)
		if d.Message != "" {
			s += "\n<i>" + escape(d.Message) + "</i>"
		}
		return s
	case engine.RunEvent:
		return fmt.Sprintf("🏁 %s run finished: %d rows, %d success, %d failed",
			escape(string(d.Mode)), d.Total, d.Success, d.Failed)
	default:
		return ""
	}
}

// splitText cuts a message into chunks Telegram accepts, preferring newline
// boundaries and never cutting inside an HTML tag.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
