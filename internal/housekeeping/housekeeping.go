// Package housekeeping purges cancelled and completed reminders on a cron
// schedule so the store does not grow without bound.
package housekeeping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/metrics"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const (
	DefaultSchedule  = "@daily"
	DefaultRetention = 30 * 24 * time.Hour
	runTimeout       = time.Minute
)

// Purger is the store operation housekeeping needs.
type Purger interface {
	PurgeTerminal(ctx context.Context, before time.Time) (int, error)
}

type Config struct {
	Enabled   bool
	Schedule  string // standard 5-field cron or a descriptor such as @daily
	Retention time.Duration
	Location  *time.Location
	Retry     storage.Policy
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = DefaultSchedule
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

type Service struct {
	store Purger
	log   logx.Logger
	now   func() time.Time

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context
	lastRun time.Time
	lastN   int
	lastErr error
}

func New(store Purger, cfg Config, opts ...Option) *Service {
	s := &Service{store: store, log: logx.Nop(), now: time.Now, cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.Comp("housekeeping"))
	return s
}

// RunOnce purges terminal reminders older than the retention window.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	cutoff := s.now().Add(-cfg.Retention)
	var n int
	err := storage.Retry(ctx, cfg.Retry, func(ctx context.Context) error {
		var err error
		n, err = s.store.PurgeTerminal(ctx, cutoff)
		return err
	})

	s.mu.Lock()
	s.lastRun, s.lastN, s.lastErr = s.now(), n, err
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("purge failed", logx.Time("cutoff", cutoff), logx.Err(err))
		return 0, err
	}
	metrics.Purged.Add(float64(n))
	s.log.Info("purged terminal reminders", logx.Int("count", n), logx.Time("cutoff", cutoff))
	return n, nil
}

// Start registers the purge job and starts the cron runner. A disabled
// config leaves the service idle until Apply enables it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
		cron.WithLogger(cronLogger{s.log}),
	)
	ctx := s.baseCtx
	id, err := c.AddFunc(s.cfg.Schedule, func() {
		rctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		_, _ = s.RunOnce(rctx)
	})
	if err != nil {
		return fmt.Errorf("housekeeping schedule %q: %w", s.cfg.Schedule, err)
	}
	s.c, s.entry = c, id
	c.Start()
	s.log.Info("housekeeping started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("retention", s.cfg.Retention),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// Stop halts the runner and waits for a running purge or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps in a new config, restarting the runner when the schedule,
// timezone or enabled flag changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	restart := prev.Enabled != cfg.Enabled || prev.Schedule != cfg.Schedule || prev.Location.String() != cfg.Location.String()
	running := s.c != nil
	started := s.baseCtx != nil
	s.mu.Unlock()

	if !restart || !started {
		return nil
	}
	if running {
		s.Stop(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

// Status is the health view of the last run.
type Status struct {
	Enabled bool      `json:"enabled"`
	Next    time.Time `json:"next,omitzero"`
	LastRun time.Time `json:"last_run,omitzero"`
	Purged  int       `json:"last_purged"`
	LastErr string    `json:"last_err,omitempty"`
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Enabled: s.c != nil, LastRun: s.lastRun, Purged: s.lastN}
	if s.c != nil {
		st.Next = s.c.Entry(s.entry).Next
	}
	if s.lastErr != nil {
		st.LastErr = s.lastErr.Error()
	}
	return st
}

// cronLogger routes robfig/cron's logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
