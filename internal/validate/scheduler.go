package validate

import (
	"context"
	"strconv"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/store"
)

// Interval bounds for scheduled validation, in days.
const (
	MinIntervalDays     = 1
	MaxIntervalDays     = 90
	DefaultIntervalDays = 7
)

// checkInterval is how often the scheduler wakes up to see whether a
// scheduled run is due. The configured interval is measured in days, so
// an hourly check is plenty.
const checkInterval = time.Hour

// Scheduler triggers timer-driven validation runs based on persisted
// settings: an enable flag, an interval in days, and the last scheduled
// run timestamp.
type Scheduler struct {
	store   store.Store
	runner  *Runner
	logger  *zap.Logger
	stopCh  chan struct{}
	mu      gosync.Mutex
	started bool
}

// NewScheduler creates a scheduler over the runner.
func NewScheduler(st store.Store, runner *Runner, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:  st,
		runner: runner,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start launches the background check loop. Calling Start twice is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts the background loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	close(s.stopCh)
	s.started = false
}

// loop checks hourly whether a scheduled run is due.
func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunIfDue(ctx, false); err != nil {
				s.logger.Warn("scheduled validation failed", zap.Error(err))
			}
		}
	}
}

// RunIfDue executes a scheduled validation pass when the feature is
// enabled and the configured interval has elapsed since the last run.
// force bypasses both checks. It reports whether a run happened.
func (s *Scheduler) RunIfDue(ctx context.Context, force bool) (bool, error) {
	if !force {
		enabled, err := s.store.GetSetting(ctx, store.SettingScheduledRefresh)
		if err != nil {
			return false, err
		}
		if enabled != "true" {
			return false, nil
		}

		interval := s.intervalDays(ctx)
		lastRun, err := s.store.GetSetting(ctx, store.SettingLastScheduledRun)
		if err != nil {
			return false, err
		}
		if lastRun != "" {
			at, parseErr := time.Parse(time.RFC3339, lastRun)
			if parseErr == nil && time.Since(at) < time.Duration(interval)*24*time.Hour {
				return false, nil
			}
		}
	}

	status := model.StatusActive
	accounts, err := s.store.ListAccounts(ctx, store.AccountFilter{Status: &status})
	if err != nil {
		return false, err
	}

	delay := s.delaySeconds(ctx)
	s.logger.Info("starting scheduled validation",
		zap.Int("accounts", len(accounts)),
		zap.Int("delay_seconds", delay),
	)

	if _, err := s.runner.Run(ctx, accounts, model.RunScheduled, delay, NopSink); err != nil {
		return false, err
	}

	if err := s.store.SetSetting(ctx, store.SettingLastScheduledRun, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("recording last scheduled run failed", zap.Error(err))
	}
	return true, nil
}

// intervalDays reads the configured interval, clamped to its bounds.
func (s *Scheduler) intervalDays(ctx context.Context) int {
	value, err := s.store.GetSetting(ctx, store.SettingValidationIntervalDays)
	if err != nil || value == "" {
		return DefaultIntervalDays
	}
	days, err := strconv.Atoi(value)
	if err != nil {
		return DefaultIntervalDays
	}
	if days < MinIntervalDays {
		return MinIntervalDays
	}
	if days > MaxIntervalDays {
		return MaxIntervalDays
	}
	return days
}

// delaySeconds reads the configured inter-item delay.
func (s *Scheduler) delaySeconds(ctx context.Context) int {
	value, err := s.store.GetSetting(ctx, store.SettingValidationDelaySeconds)
	if err != nil || value == "" {
		return 5
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 5
	}
	if seconds > MaxDelaySeconds {
		return MaxDelaySeconds
	}
	return seconds
}
