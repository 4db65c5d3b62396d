package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sweeper runs a generation pass for every user.
type Sweeper interface {
	GenerateAll(ctx context.Context) ([]GenerationReport, error)
}

// SchedulerConfig holds configuration for the generation scheduler
type SchedulerConfig struct {
	// Interval between sweeps (default: 1h)
	Interval time.Duration

	// RunOnStart triggers a sweep as soon as the scheduler starts (default: true)
	RunOnStart bool
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// Scheduler triggers periodic generation sweeps.
type Scheduler struct {
	sweeper Sweeper
	config  SchedulerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	sweeps  int
}

// NewScheduler creates a new scheduler
func NewScheduler(sweeper Sweeper, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &Scheduler{
		sweeper: sweeper,
		config:  config,
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Generation scheduler started",
		"interval", s.config.Interval,
		"run_on_start", s.config.RunOnStart)

	return nil
}

// Stop signals the loop and waits for the current sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Generation scheduler stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Generation scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning returns whether the scheduler loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Sweeps returns how many sweeps have completed.
func (s *Scheduler) Sweeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeps
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.sweep(ctx)
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()
	reports, err := s.sweeper.GenerateAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Generation sweep failed", "error", err)
	}

	inserted, skipped := 0, 0
	for _, r := range reports {
		inserted += r.Inserted
		if !r.Ran() {
			skipped++
		}
	}

	s.mu.Lock()
	s.sweeps++
	s.mu.Unlock()

	slog.InfoContext(ctx, "Generation sweep finished",
		"users", len(reports),
		"inserted", inserted,
		"skipped", skipped,
		"duration_ms", time.Since(start).Milliseconds())
}
