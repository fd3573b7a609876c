package service

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/domain"
	"github.com/aussiebroadwan/droplock/internal/download/store"
	"github.com/aussiebroadwan/droplock/pkg/idx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

var ErrInvalidCount = errors.New("generation count must be positive")

// codeAlphabet excludes 0, O, 1 and I so codes survive being read aloud or
// copied by hand.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of every download code.
const CodeLength = 6

// CodesService owns code generation and the admin reporting/maintenance
// operations over the code table.
type CodesService struct {
	Store store.Store

	// MaxBatch caps a single generation request. Zero means DefaultMaxBatch.
	MaxBatch int

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// DefaultMaxBatch matches the largest batch the admin surface offers.
const DefaultMaxBatch = 5000

func (s *CodesService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CodesService) maxBatch() int {
	if s.MaxBatch > 0 {
		return s.MaxBatch
	}
	return DefaultMaxBatch
}

// GenerateCodes mints count random codes and persists them, returning the
// number actually inserted. A code that collides with an existing row is
// skipped rather than retried; with a 32^6 space the shortfall is theoretical,
// and callers see the true inserted count either way.
func (s *CodesService) GenerateCodes(ctx context.Context, count int) (int, error) {
	log := slogx.FromContext(ctx)

	if count <= 0 {
		return 0, ErrInvalidCount
	}
	if limit := s.maxBatch(); count > limit {
		log.Warn("generation request clamped",
			slog.Int("requested", count),
			slog.Int("limit", limit),
		)
		count = limit
	}

	now := s.now()
	inserted := 0

	// One transaction for the whole batch keeps concurrent redemptions from
	// ever observing a partially generated batch.
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		for range count {
			code, err := randomCode()
			if err != nil {
				return err
			}

			err = tx.Codes().CreateCode(ctx, domain.Code{
				ID:        idx.New().String(),
				Code:      code,
				CreatedAt: now,
			})
			if errors.Is(err, store.ErrAlreadyExists) {
				continue // collision, count only successful inserts
			}
			if err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		log.Error("code generation failed", slog.Any("error", err))
		return 0, err
	}

	log.Info("codes generated",
		slog.Int("requested", count),
		slog.Int("inserted", inserted),
	)
	return inserted, nil
}

// ListUnusedCodes returns every code that has not been redeemed, for export.
func (s *CodesService) ListUnusedCodes(ctx context.Context) ([]string, error) {
	return s.Store.Codes().ListUnusedCodes(ctx)
}

// Stats returns total/used/available counts for the admin dashboard.
func (s *CodesService) Stats(ctx context.Context) (domain.Stats, error) {
	return s.Store.Codes().CountCodes(ctx)
}

// PurgeCodes deletes every code record atomically.
func (s *CodesService) PurgeCodes(ctx context.Context) error {
	log := slogx.FromContext(ctx)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Codes().DeleteAllCodes(ctx)
	})
	if err != nil {
		log.Error("failed to purge codes", slog.Any("error", err))
		return err
	}

	log.Info("all codes purged")
	return nil
}

// ResetCodes purges the table and reclaims file space. The delete is a single
// transaction, so concurrent redemptions see either the old table or an empty
// one, never a partial state.
func (s *CodesService) ResetCodes(ctx context.Context) error {
	log := slogx.FromContext(ctx)

	if err := s.PurgeCodes(ctx); err != nil {
		return err
	}

	if err := s.Store.Vacuum(ctx); err != nil {
		// The reset already succeeded; space reclamation is best-effort.
		log.Warn("vacuum after reset failed", slog.Any("error", err))
	}

	log.Info("code table reset")
	return nil
}

// randomCode draws CodeLength symbols uniformly from codeAlphabet using the
// CSPRNG. Codes are bearer secrets, so a statistical PRNG is not acceptable.
func randomCode() (string, error) {
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
