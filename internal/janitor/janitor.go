// Package janitor prunes aged terminal jobs on a cron schedule so the
// store doesn't grow without bound.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wabot/internal/storage"
	logx "wabot/pkg/logx"
)

type Config struct {
	Enabled bool
	// Schedule is a cron spec; 5-field, or 6-field with seconds.
	Schedule string
	// Retain is how long terminal jobs are kept before pruning.
	Retain time.Duration
}

func (c Config) normalize() Config {
	if c.Schedule == "" {
		c.Schedule = "0 3 * * *"
	}
	if c.Retain <= 0 {
		c.Retain = 30 * 24 * time.Hour
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	store  storage.Store
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.normalize(),
		log:   log,
		store: store,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.store == nil {
		return nil
	}
	if s.c != nil {
		return nil
	}

	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.prune(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("janitor started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("retain", s.cfg.Retain),
	)
	return nil
}

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

// Prune runs one pruning pass immediately, outside the schedule.
func (s *Service) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	retain := s.cfg.Retain
	s.mu.Unlock()
	if s.store == nil {
		return 0, nil
	}
	return s.store.PruneJobs(ctx, time.Now().Add(-retain))
}

func (s *Service) prune(ctx context.Context) {
	n, err := s.Prune(ctx)
	if err != nil {
		s.log.Error("prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("aged jobs pruned", logx.Int("count", n))
	} else {
		s.log.Debug("nothing to prune")
	}
}
