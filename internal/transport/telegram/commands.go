package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"linkrunner/internal/engine"
	"linkrunner/internal/faults"
	"linkrunner/internal/model"
)

type command struct {
	name string
	help string
	run  func(b *Bot, ctx context.Context, args []string) (string, error)
}

var commands []command

func init() {
	commands = []command{
		{name: "status", help: "engine, runs and projects", run: (*Bot).cmdStatus},
		{name: "projects", help: "projects with progress", run: (*Bot).cmdProjects},
		{name: "start_campaigns", help: "start every runnable project", run: simple(engine.CmdStartCampaigns)},
		{name: "stop", help: "stop after the current batch; /stop force aborts retries", run: (*Bot).cmdStop},
		{name: "resume", help: "resume a stopped run; /resume edit|remove", run: (*Bot).cmdResume},
		{name: "retry", help: "requeue failed rows; /retry <projectId>", run: (*Bot).cmdRetry},
		{name: "help", help: "this list", run: (*Bot).cmdHelp},
	}
}

// exec parses "/name[@bot] args..." and runs it.
func (b *Bot) exec(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		out, err := c.run(b, ctx, fields[1:])
		if err != nil {
			return "⚠️ " + escape(describeErr(err))
		}
		return out
	}
	return "Unknown command. Try /help"
}

func describeErr(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotStarted), errors.Is(err, engine.ErrClosed):
		return "engine is not running"
	case faults.Is(err, faults.KindConfig):
		return "invalid settings: " + err.Error()
	default:
		return err.Error()
	}
}

func simple(typ string) func(b *Bot, ctx context.Context, args []string) (string, error) {
	return func(b *Bot, ctx context.Context, _ []string) (string, error) {
		return b.do(ctx, engine.Command{Type: typ})
	}
}

func (b *Bot) do(ctx context.Context, cmd engine.Command) (string, error) {
	res, err := b.eng.Do(ctx, cmd)
	if err != nil {
		return "", err
	}
	icon := "✅"
	if !res.OK {
		icon = "ℹ️"
	}
	msg := res.Message
	if msg == "" {
		msg = cmd.Type
	}
	return icon + " " + escape(msg), nil
}

func (b *Bot) cmdStop(ctx context.Context, args []string) (string, error) {
	force := len(args) > 0 && strings.EqualFold(args[0], "force")
	return b.do(ctx, engine.Command{Type: engine.CmdStop, Force: force})
}

func (b *Bot) cmdResume(ctx context.Context, args []string) (string, error) {
	cmd := engine.Command{Type: engine.CmdResume}
	if len(args) > 0 {
		mode, err := model.ParseMode(args[0])
		if err != nil {
			return "", err
		}
		cmd.Mode = mode
	}
	return b.do(ctx, cmd)
}

func (b *Bot) cmdRetry(ctx context.Context, args []string) (string, error) {
	cmd := engine.Command{Type: engine.CmdRetryFailed}
	if len(args) > 0 {
		cmd.ProjectID = args[0]
	}
	return b.do(ctx, cmd)
}

func (b *Bot) cmdStatus(_ context.Context, _ []string) (string, error) {
	return formatStatus(b.eng.Snapshot()), nil
}

func (b *Bot) cmdProjects(_ context.Context, _ []string) (string, error) {
	ps := b.eng.Snapshot().Projects
	if len(ps) == 0 {
		return "No projects.", nil
	}
	var sb strings.Builder
	sb.WriteString("<b>Projects</b>\n")
	for _, p := range ps {
		sb.WriteString(projectLine(p))
		fmt.Fprintf(&sb, "   <code>%s</code>\n", escape(p.ID))
	}
	return sb.String(), nil
}

func (b *Bot) cmdHelp(_ context.Context, _ []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("<b>Commands</b>\n")
	for _, c := range commands {
		fmt.Fprintf(&sb, "/%s: %s\n", c.name, escape(c.help))
	}
	return sb.String(), nil
}
