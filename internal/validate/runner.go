// Package validate runs batch credential validation: every account's
// refresh credential is exchanged for an access token to detect revoked
// or expired credentials without fetching mail.
package validate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/redact"
	"github.com/nhle/mailvault/internal/secret"
	"github.com/nhle/mailvault/internal/store"
	"github.com/nhle/mailvault/internal/token"
)

// RetentionMonths is how long validation log rows are kept before the
// pre-run sweep deletes them.
const RetentionMonths = 6

// MaxDelaySeconds caps the configurable inter-item delay.
const MaxDelaySeconds = 60

// ErrRunInProgress is returned when a run is requested while another is
// in flight. Runs never execute concurrently over the account set.
var ErrRunInProgress = errors.New("validate: a validation run is already in progress")

// TokenAcquirer exchanges a refresh credential for an access token.
type TokenAcquirer interface {
	Acquire(ctx context.Context, profile token.Profile, clientID, refreshToken string) (string, error)
}

// Summary is the final tally of one run.
type Summary struct {
	Total      int
	Succeeded  int
	Failed     int
	FailedList []string
}

// Runner validates account credentials strictly sequentially, persisting
// one audit row per account and throttling between items. The throttle
// exists to avoid provider abuse heuristics triggered by rapid token
// requests from one source; it is configurable but never skipped when
// positive.
type Runner struct {
	store   store.Store
	cipher  *secret.Cipher
	tokens  TokenAcquirer
	logger  *zap.Logger
	running atomic.Bool

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewRunner creates a validation runner.
func NewRunner(st store.Store, cipher *secret.Cipher, tokens TokenAcquirer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:  st,
		cipher: cipher,
		tokens: tokens,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Run validates each account in input order, emitting progress events to
// sink. Per-account failures never abort the batch. Persistence happens
// regardless of whether anyone consumes the events. A second Run while
// one is in flight returns ErrRunInProgress.
func (r *Runner) Run(ctx context.Context, accounts []model.Account, runType model.RunType, delaySeconds int, sink Sink) (*Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	if sink == nil {
		sink = NopSink
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	if delaySeconds > MaxDelaySeconds {
		delaySeconds = MaxDelaySeconds
	}

	// Retention sweep before every full run.
	cutoff := time.Now().AddDate(0, -RetentionMonths, 0)
	if swept, err := r.store.DeleteValidationLogsBefore(ctx, cutoff); err != nil {
		r.logger.Warn("validation log sweep failed", zap.Error(err))
	} else if swept > 0 {
		r.logger.Info("swept old validation logs", zap.Int64("deleted", swept))
	}

	summary := &Summary{Total: len(accounts)}
	sink.Emit(Event{Kind: EventStart, Total: summary.Total, DelaySeconds: delaySeconds})

	for i, account := range accounts {
		outcome, message := r.validateOne(ctx, account)

		entry := model.ValidationLogEntry{
			AccountID: account.ID,
			Email:     account.Email,
			RunType:   runType,
			Outcome:   outcome,
			Message:   message,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.store.InsertValidationLog(ctx, entry); err != nil {
			r.logger.Warn("persisting validation log failed",
				zap.String("email", account.Email), zap.Error(err))
		}

		if outcome == model.OutcomeSuccess {
			summary.Succeeded++
			if err := r.store.TouchLastValidated(ctx, account.ID, entry.CreatedAt); err != nil {
				r.logger.Warn("stamping last_validated failed",
					zap.String("email", account.Email), zap.Error(err))
			}
		} else {
			summary.Failed++
			summary.FailedList = append(summary.FailedList, account.Email)
		}

		sink.Emit(Event{
			Kind:      EventProgress,
			Index:     i + 1,
			Total:     summary.Total,
			Email:     account.Email,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
		})

		// Throttle between items, never after the last one.
		if delaySeconds > 0 && i < len(accounts)-1 {
			sink.Emit(Event{Kind: EventDelay, Seconds: delaySeconds})
			r.sleep(time.Duration(delaySeconds) * time.Second)
		}
	}

	sink.Emit(Event{
		Kind:       EventComplete,
		Total:      summary.Total,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		FailedList: summary.FailedList,
	})

	r.logger.Info("validation run complete",
		zap.String("run_type", string(runType)),
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// validateOne checks a single account's refresh credential. A decryption
// failure is reported distinctly from a provider rejection; the returned
// message is already redacted and safe to persist.
func (r *Runner) validateOne(ctx context.Context, account model.Account) (model.Outcome, string) {
	refreshToken, err := r.cipher.Decrypt(account.RefreshToken)
	if err != nil {
		var decErr *secret.DecryptionError
		if errors.As(err, &decErr) {
			return model.OutcomeFailed, fmt.Sprintf("credential decryption failed: %s", redact.Error(decErr.Cause))
		}
		return model.OutcomeFailed, redact.Error(err)
	}

	if _, err := r.tokens.Acquire(ctx, token.ProfileGraph, account.ClientID, refreshToken); err != nil {
		return model.OutcomeFailed, redact.Error(err)
	}
	return model.OutcomeSuccess, ""
}
