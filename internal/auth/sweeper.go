// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/verigate/verigate/pkg/errutil"
)

// Sweeper default settings.
const (
	DefaultCodeRetention = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// SweepResult counts the records removed by one sweep.
type SweepResult struct {
	Codes    int64
	Sessions int64
}

// Sweeper periodically deletes one-time codes that have been used or expired
// for longer than the retention window, and expired sessions.
type Sweeper struct {
	codes     CodeRepository
	sessions  SessionRepository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	onSweep   func(SweepResult)
}

// NewSweeper creates a Sweeper. sessions may be nil when sessions are not
// stored alongside codes.
func NewSweeper(codes CodeRepository, sessions SessionRepository, retention, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if codes == nil {
		return nil, oops.Code("SWEEPER_INVALID").Errorf("codes repository is required")
	}
	if retention < 0 || interval <= 0 {
		return nil, oops.Code("SWEEPER_INVALID").
			With("retention", retention.String()).
			With("interval", interval.String()).
			Errorf("retention must not be negative and interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		codes:     codes,
		sessions:  sessions,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// OnSweep registers fn to be called after every successful sweep. It must be
// called before Run.
func (w *Sweeper) OnSweep(fn func(SweepResult)) {
	w.onSweep = fn
}

// SweepOnce performs a single purge.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	now := w.now().UTC()

	var result SweepResult
	n, err := w.codes.DeleteStale(ctx, now.Add(-w.retention))
	if err != nil {
		return result, oops.Code("SWEEP_CODES_FAILED").Wrap(err)
	}
	result.Codes = n

	if w.sessions != nil {
		n, err = w.sessions.DeleteExpired(ctx, now)
		if err != nil {
			return result, oops.Code("SWEEP_SESSIONS_FAILED").Wrap(err)
		}
		result.Sessions = n
	}

	w.logger.DebugContext(ctx, "retention sweep finished", "codes", result.Codes, "sessions", result.Sessions)
	if w.onSweep != nil {
		w.onSweep(result)
	}
	return result, nil
}

// Run sweeps every interval until ctx is cancelled. Failed sweeps are logged
// and retried on the next tick.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				errutil.LogErrorContext(ctx, w.logger, slog.LevelError, "retention sweep failed", err)
			}
		}
	}
}
