// Package schedule fires the start-campaigns trigger on a cron expression or
// a fixed interval.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "linkrunner/pkg/logx"
)

// Config controls the trigger.
type Config struct {
	Enabled  bool
	Spec     string
	Timezone string
	// Timeout bounds one trigger call.
	Timeout time.Duration
}

// Validate parses the spec when the trigger is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	sp, err := Parse(c.Spec)
	if err != nil {
		return err
	}
	if sp.Kind == KindCron {
		if _, err := newParser().Parse(sp.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", sp.Cron, err)
		}
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	return nil
}

// Trigger is what the schedule fires.
type Trigger func(ctx context.Context) error

type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	trigger Trigger
	parser  cron.Parser

	base  context.Context
	c     *cron.Cron
	entry cron.EntryID

	busy  atomic.Bool
	fired atomic.Uint64
}

// newParser accepts both 5-field and 6-field (with seconds) specs.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func New(cfg Config, trigger Trigger, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "schedule")),
		trigger: trigger,
		parser:  newParser(),
	}
}

// Start registers the trigger. A disabled schedule starts nothing.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.base = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	cfg := s.cfg
	if !cfg.Enabled {
		s.log.Debug("schedule disabled")
		return nil
	}
	sp, err := Parse(cfg.Spec)
	if err != nil {
		return err
	}

	loc := s.locationLocked()
	var sched cron.Schedule
	var spread time.Duration
	switch sp.Kind {
	case KindInterval:
		sched, spread = intervalWithSpread(sp.Every, time.Now().In(loc))
	default:
		sched, err = s.parser.Parse(sp.Cron)
		if err != nil {
			return fmt.Errorf("invalid cron %q: %w", sp.Cron, err)
		}
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc), cron.WithLogger(cronLogger{log: s.log}))
	s.entry = s.c.Schedule(sched, cron.FuncJob(s.fire))
	s.c.Start()
	s.log.Info("schedule started",
		logx.String("spec", cfg.Spec),
		logx.String("source", sp.Source),
		logx.String("tz", loc.String()),
		logx.Duration("startup_spread", spread),
	)
	return nil
}

// Apply swaps the config and re-registers the trigger when it changed.
func (s *Service) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.base == nil || (old.Enabled == cfg.Enabled && old.Spec == cfg.Spec && old.Timezone == cfg.Timezone) {
		return nil
	}
	s.stopLocked(context.Background())
	return s.startLocked()
}

// Stop halts triggering and waits for a running trigger up to ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
	s.base = nil
}

func (s *Service) stopLocked(ctx context.Context) {
	c := s.c
	s.c = nil
	s.entry = 0
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("schedule stopped")
}

// Next reports the next fire time, if any.
func (s *Service) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || s.entry == 0 {
		return time.Time{}, false
	}
	e := s.c.Entry(s.entry)
	if !e.Valid() || e.Next.IsZero() {
		return time.Time{}, false
	}
	return e.Next, true
}

// Fired counts trigger calls that ran.
func (s *Service) Fired() uint64 { return s.fired.Load() }

// fire runs the trigger once. Overlapping fires are skipped.
func (s *Service) fire() {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Warn("trigger still running; skipped")
		return
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	base := s.base
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("trigger panic", logx.Any("panic", r))
		}
	}()

	s.fired.Add(1)
	start := time.Now()
	if err := s.trigger(ctx); err != nil {
		s.log.Warn("trigger failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Info("trigger fired", logx.Duration("took", time.Since(start)))
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
