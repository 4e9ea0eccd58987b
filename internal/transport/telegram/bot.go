// Package telegram is the operator bot: a few control commands for owners
// plus alert and lifecycle notifications to a log chat.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"linkrunner/internal/engine"
	"linkrunner/internal/eventbus"
	rtsup "linkrunner/internal/runtime/supervisor"
	logx "linkrunner/pkg/logx"
)

// Engine is the control surface the bot drives.
type Engine interface {
	Do(ctx context.Context, cmd engine.Command) (engine.Result, error)
	Snapshot() engine.Snapshot
	Bus() eventbus.Bus
}

type Config struct {
	Token       string
	OwnerIDs    []int64
	GroupLog    int64 // chat for alerts and lifecycle events; 0 disables
	ThreadID    int
	PollTimeout time.Duration
	// Offline skips the getMe call; used by tests.
	Offline bool
}

// sender is the slice of *tele.Bot used for outgoing messages.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Bot struct {
	cfg    Config
	log    logx.Logger
	eng    Engine
	bot    *tele.Bot
	out    sender
	owners map[int64]bool

	mu   sync.Mutex
	base context.Context
	sup  *rtsup.Supervisor
}

func New(cfg Config, eng Engine, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	b := &Bot{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "telegram")),
		eng:    eng,
		bot:    tb,
		out:    tb,
		owners: make(map[int64]bool, len(cfg.OwnerIDs)),
		base:   context.Background(),
	}
	for _, id := range cfg.OwnerIDs {
		b.owners[id] = true
	}
	b.register()
	return b, nil
}

func (b *Bot) register() {
	b.bot.Use(b.ownerOnly)
	for _, c := range commands {
		b.bot.Handle("/"+c.name, b.onCommand)
	}
}

// ownerOnly drops updates from anyone not listed in owner_user_ids.
func (b *Bot) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if s := c.Sender(); s == nil || !b.owners[s.ID] {
			var id int64
			if s != nil {
				id = s.ID
			}
			b.log.Debug("ignored update from non-owner", logx.Int64("from_id", id))
			return nil
		}
		return next(c)
	}
}

func (b *Bot) onCommand(c tele.Context) error {
	b.mu.Lock()
	base := b.base
	b.mu.Unlock()
	ctx, cancel := context.WithTimeout(base, 30*time.Second)
	defer cancel()

	start := time.Now()
	reply := b.exec(ctx, c.Text())
	b.log.Debug("command handled", logx.String("text", c.Text()), logx.Duration("took", time.Since(start)))
	for _, chunk := range splitText(reply, textLimit) {
		if err := c.Send(chunk, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// Start runs polling and the event forwarder until ctx ends or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sup != nil {
		return nil
	}
	b.base = ctx
	sup := rtsup.New(ctx, rtsup.WithLogger(b.log), rtsup.WithCancelOnError(false))
	b.sup = sup

	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.bot.Stop()
	})
	// telebot's Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telegram.poll", func(c context.Context) error {
		b.log.Info("polling started")
		b.bot.Start()
		b.log.Info("polling stopped")
		return c.Err()
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	if b.cfg.GroupLog != 0 && b.eng != nil {
		sup.Go0("telegram.events", b.forwardEvents)
	}
	return nil
}

// Stop cancels polling and waits up to a short grace window.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	sup := b.sup
	b.sup = nil
	b.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

// Supervisor exposes the bot goroutines for health views; nil when stopped.
func (b *Bot) Supervisor() *rtsup.Supervisor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sup
}

// SendAlert implements logx.AlertSender for the log chat.
func (b *Bot) SendAlert(ctx context.Context, text string) error {
	if b.cfg.GroupLog == 0 {
		return nil
	}
	return b.sendLog(ctx, "<pre>"+escape(text)+"</pre>")
}

func (b *Bot) sendLog(ctx context.Context, html string) error {
	chat := &tele.Chat{ID: b.cfg.GroupLog}
	for _, chunk := range splitText(html, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := b.out.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              b.cfg.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// forwardEvents posts lifecycle events to the log chat.
func (b *Bot) forwardEvents(ctx context.Context) {
	ch, unsubscribe := b.eng.Bus().Subscribe(16,
		eventbus.TypeProjectCompleted, eventbus.TypeProjectBlocked, eventbus.TypeRunFinished)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			text := formatEvent(ev)
			if text == "" {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := b.sendLog(sctx, text); err != nil {
				b.log.Warn("event notification failed", logx.String("type", ev.Type), logx.Err(err))
			}
			cancel()
		}
	}
}
