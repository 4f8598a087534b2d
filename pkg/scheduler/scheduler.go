// Package scheduler runs the due-cursor batch on a cron schedule inside the process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/nurture/pkg/engine"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 1m"

var ErrAlreadyStarted = errors.New("scheduler already started")

// Runner is the part of the engine the scheduler drives.
type Runner interface {
	RunDue(ctx context.Context) (engine.RunResult, error)
}

type Scheduler struct {
	runner   Runner
	logger   *slog.Logger
	schedule string

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(runner Runner, logger *slog.Logger, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if err := Validate(schedule); err != nil {
		return nil, err
	}

	return &Scheduler{
		runner:   runner,
		logger:   logger.With("module", "scheduler"),
		schedule: schedule,
	}, nil
}

// Validate checks a standard five-field cron expression or a descriptor such as "@every 30s".
func Validate(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}

	return nil
}

// Start registers the batch job and returns immediately. Ticks that fire while
// a pass is still running are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	cronLogger := NewLogger(s.logger)

	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	s.ctx, s.cancel = context.WithCancel(ctx)

	entryID, err := c.AddFunc(s.schedule, func() { s.Tick(s.ctx) })
	if err != nil {
		s.cancel()

		return fmt.Errorf("failed to add poll job: %w", err)
	}

	c.Start()
	s.cron = c

	s.logger.InfoContext(ctx, "scheduler started", "schedule", s.schedule, "entry_id", entryID)

	return nil
}

// Tick runs one pass and logs its outcome.
func (s *Scheduler) Tick(ctx context.Context) {
	result, err := s.runner.RunDue(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "poll pass aborted", "error", err,
			"processed", result.Processed, "errors", result.Errors)

		return
	}

	level := slog.LevelDebug
	if result.Processed > 0 || result.Errors > 0 {
		level = slog.LevelInfo
	}

	s.logger.Log(ctx, level, "poll pass finished",
		"processed", result.Processed, "errors", result.Errors, "skipped", result.Skipped)
}

// Stop cancels the running pass and waits for it to return.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	s.cancel()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "scheduler stopped")
}

// Logger adapts slog to cron.Logger.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) Logger {
	return Logger{logger: logger}
}

func (l Logger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l Logger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
