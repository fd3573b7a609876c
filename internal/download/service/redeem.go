package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/domain"
	"github.com/aussiebroadwan/droplock/internal/download/store"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// Defaults for the redemption policy. Both are configurable on RedeemService.
const (
	DefaultGraceWindow = 15 * time.Minute
	DefaultMaxAttempts = 3
)

// busyRetries bounds how often a redemption is retried when sqlite reports
// lock contention before the failure is surfaced. Retries back off so the
// competing transaction has a chance to commit first.
const (
	busyRetries = 3
	busyBackoff = 25 * time.Millisecond
)

// RedeemService is the redemption state machine. Each Redeem call runs as one
// store transaction so two concurrent submissions of the same fresh code
// cannot both win first use.
type RedeemService struct {
	Store store.Store

	// GraceWindow is how long the redeeming address may retry after first
	// use. Zero means DefaultGraceWindow.
	GraceWindow time.Duration

	// MaxAttempts caps retries inside the grace window. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *RedeemService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RedeemService) graceWindow() time.Duration {
	if s.GraceWindow > 0 {
		return s.GraceWindow
	}
	return DefaultGraceWindow
}

func (s *RedeemService) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Redeem validates code for addr and mutates the record per the outcome:
//
//   - unknown code: RedeemInvalid, no mutation
//   - fresh code: bind to addr, attempts=1, RedeemValid
//   - used, same addr, inside grace window, attempts below cap: increment,
//     RedeemValid
//   - used, same addr, inside grace window, cap reached: RedeemMaxAttempts
//   - anything else (other addr, or window elapsed): RedeemAlreadyUsed
//
// A replay by a different party and a legitimate retry after the window are
// indistinguishable, so both deny with RedeemAlreadyUsed.
func (s *RedeemService) Redeem(
	ctx context.Context,
	code string,
	addr string,
) (domain.RedeemOutcome, error) {
	log := slogx.FromContext(ctx)

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.RedeemInvalid, nil
	}

	var outcome domain.RedeemOutcome
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		outcome, err = s.redeemOnce(ctx, code, addr)
		if err == nil || !isLockContention(err) {
			break
		}
		log.Warn("redemption transaction contended, retrying",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)

		select {
		case <-time.After(time.Duration(attempt+1) * busyBackoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		log.Error("redemption failed", slog.Any("error", err))
		return "", err
	}

	switch outcome {
	case domain.RedeemValid:
		log.Info("code redeemed", slog.String("addr", addr))
	default:
		log.Warn("code redemption rejected",
			slog.String("outcome", string(outcome)),
			slog.String("addr", addr),
		)
	}
	return outcome, nil
}

func (s *RedeemService) redeemOnce(
	ctx context.Context,
	code string,
	addr string,
) (domain.RedeemOutcome, error) {
	now := s.now()

	var outcome domain.RedeemOutcome
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		rec, err := tx.Codes().GetCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			outcome = domain.RedeemInvalid
			return nil
		}
		if err != nil {
			return err
		}

		// First use: bind the code to this address and start the grace window.
		if !rec.Used {
			if err := tx.Codes().MarkCodeUsed(ctx, code, addr, now); err != nil {
				return err
			}
			outcome = domain.RedeemValid
			return nil
		}

		// Used before. A retry is only honoured for the binding address
		// inside the grace window.
		if rec.UsedIP != addr || rec.UsedAt == nil || now.Sub(*rec.UsedAt) >= s.graceWindow() {
			outcome = domain.RedeemAlreadyUsed
			return nil
		}

		if rec.Attempts >= s.maxAttempts() {
			outcome = domain.RedeemMaxAttempts
			return nil
		}

		if err := tx.Codes().IncrementAttempts(ctx, code, now); err != nil {
			return err
		}
		outcome = domain.RedeemValid
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// MostRecentRedemption resolves the capability binding at fetch time: the
// newest record redeemed by addr inside the grace window. The caller gets
// store.ErrNotFound when no such redemption exists.
func (s *RedeemService) MostRecentRedemption(ctx context.Context, addr string) (domain.Code, error) {
	since := s.now().Add(-s.graceWindow())
	return s.Store.Codes().MostRecentRedemption(ctx, addr, since)
}

// isLockContention matches sqlite busy/locked failures, which are transient
// and worth one more try.
func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
