package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of periodic maintenance work.
type Task func(context.Context) error

// Config controls how often a task runs.
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Logger       *zap.Logger
}

// Scheduler runs a single task on a fixed interval until stopped.
type Scheduler struct {
	name         string
	task         Task
	interval     time.Duration
	initialDelay time.Duration
	logger       *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New builds a scheduler for the given task.
func New(name string, task Task, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Scheduler{
		name:         name,
		task:         task,
		interval:     cfg.Interval,
		initialDelay: cfg.InitialDelay,
		logger:       cfg.Logger,
	}
}

// Start launches the run loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.started = true
	s.logger.Sugar().Infow("scheduler started", "task", s.name, "interval", s.interval)
}

// Stop cancels the run loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped", "task", s.name)
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	if s.initialDelay > 0 {
		timer := time.NewTimer(s.initialDelay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	s.execute()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.execute()
		}
	}
}

func (s *Scheduler) execute() {
	if err := s.task(s.ctx); err != nil {
		s.logger.Sugar().Warnw("scheduled task failed", "task", s.name, "error", err)
	}
}
