package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/domain"
	"github.com/aussiebroadwan/droplock/internal/download/store"
	"github.com/aussiebroadwan/droplock/internal/download/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

// newFileStore opens a WAL file database, the same configuration the
// application runs with.
func newFileStore(t *testing.T) *sqlite.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "redeem.db")
	st, err := sqlite.NewStore("file:" + path + "?_pragma=journal_mode(WAL)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

// seedCode generates one code and returns it.
func seedCode(t *testing.T, st store.Store) string {
	t.Helper()

	ctx := context.Background()
	svc := &CodesService{Store: st}

	_, err := svc.GenerateCodes(ctx, 1)
	require.NoError(t, err)

	codes, err := svc.ListUnusedCodes(ctx)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	return codes[0]
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unknown code is invalid", func(t *testing.T) {
		svc := &RedeemService{Store: newTestStore(t)}

		outcome, err := svc.Redeem(ctx, "ZZZZZZ", "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemInvalid, outcome)
	})

	t.Run("blank code is invalid without touching the store", func(t *testing.T) {
		svc := &RedeemService{Store: newTestStore(t)}

		outcome, err := svc.Redeem(ctx, "   ", "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemInvalid, outcome)
	})

	t.Run("first use binds code to address", func(t *testing.T) {
		st := newTestStore(t)
		code := seedCode(t, st)
		svc := &RedeemService{Store: st, Now: func() time.Time { return base }}

		outcome, err := svc.Redeem(ctx, code, "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemValid, outcome)

		rec, err := st.Codes().GetCode(ctx, code)
		require.NoError(t, err)
		require.True(t, rec.Used)
		require.Equal(t, "10.0.0.1", rec.UsedIP)
		require.Equal(t, 1, rec.Attempts)
	})

	t.Run("submission is case and whitespace insensitive", func(t *testing.T) {
		st := newTestStore(t)
		code := seedCode(t, st)
		svc := &RedeemService{Store: st, Now: func() time.Time { return base }}

		outcome, err := svc.Redeem(ctx, "  "+strings.ToLower(code)+"  ", "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemValid, outcome)
	})

	t.Run("same address may retry inside the grace window", func(t *testing.T) {
		st := newTestStore(t)
		code := seedCode(t, st)

		now := base
		svc := &RedeemService{Store: st, Now: func() time.Time { return now }}

		outcome, err := svc.Redeem(ctx, code, "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemValid, outcome)

		now = base.Add(5 * time.Minute)
		outcome, err = svc.Redeem(ctx, code, "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemValid, outcome)

		rec, err := st.Codes().GetCode(ctx, code)
		require.NoError(t, err)
		require.Equal(t, 2, rec.Attempts)
	})

	t.Run("different address is rejected as already used", func(t *testing.T) {
		st := newTestStore(t)
		code := seedCode(t, st)
		svc := &RedeemService{Store: st, Now: func() time.Time { return base }}

		_, err := svc.Redeem(ctx, code, "10.0.0.1")
		require.NoError(t, err)

		outcome, err := svc.Redeem(ctx, code, "10.0.0.2")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemAlreadyUsed, outcome)
	})

	t.Run("retry after the window elapses is rejected", func(t *testing.T) {
		st := newTestStore(t)
		code := seedCode(t, st)

		now := base
		svc := &RedeemService{Store: st, Now: func() time.Time { return now }}

		_, err := svc.Redeem(ctx, code, "10.0.0.1")
		require.NoError(t, err)

		now = base.Add(DefaultGraceWindow)
		outcome, err := svc.Redeem(ctx, code, "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemAlreadyUsed, outcome)
	})

	t.Run("attempt cap applies inside the window", func(t *testing.T) {
		st := newTestStore(t)
		code := seedCode(t, st)

		now := base
		svc := &RedeemService{Store: st, Now: func() time.Time { return now }}

		for i := range DefaultMaxAttempts {
			now = base.Add(time.Duration(i) * time.Minute)
			outcome, err := svc.Redeem(ctx, code, "10.0.0.1")
			require.NoError(t, err)
			require.Equal(t, domain.RedeemValid, outcome)
		}

		now = base.Add(10 * time.Minute)
		outcome, err := svc.Redeem(ctx, code, "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, domain.RedeemMaxAttempts, outcome)
	})
}

func TestRedeemConcurrentFirstUse(t *testing.T) {
	ctx := context.Background()

	stores := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return newTestStore(t) },
		"file":   func(t *testing.T) store.Store { return newFileStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)
			code := seedCode(t, st)
			svc := &RedeemService{Store: st}

			const workers = 8
			outcomes := make([]domain.RedeemOutcome, workers)
			errs := make([]error, workers)

			// Every worker submits from its own address, so exactly one may
			// win first use and the rest must observe the used state.
			start := make(chan struct{})
			var wg sync.WaitGroup
			for i := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					outcomes[i], errs[i] = svc.Redeem(ctx, code, fmt.Sprintf("10.0.0.%d", i+1))
				}()
			}
			close(start)
			wg.Wait()

			winners := 0
			for i := range workers {
				require.NoError(t, errs[i])
				switch outcomes[i] {
				case domain.RedeemValid:
					winners++
				case domain.RedeemAlreadyUsed:
				default:
					t.Fatalf("unexpected outcome %q for worker %d", outcomes[i], i)
				}
			}
			require.Equal(t, 1, winners)

			// Losers came from other addresses, so the attempt count must
			// still reflect only the winning first use.
			rec, err := st.Codes().GetCode(ctx, code)
			require.NoError(t, err)
			require.True(t, rec.Used)
			require.Equal(t, 1, rec.Attempts)
		})
	}
}

func TestMostRecentRedemption(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no redemption for address", func(t *testing.T) {
		svc := &RedeemService{Store: newTestStore(t), Now: func() time.Time { return base }}

		_, err := svc.MostRecentRedemption(ctx, "10.0.0.1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("returns newest redemption inside the window", func(t *testing.T) {
		st := newTestStore(t)
		gen := &CodesService{Store: st}
		_, err := gen.GenerateCodes(ctx, 2)
		require.NoError(t, err)

		codes, err := gen.ListUnusedCodes(ctx)
		require.NoError(t, err)
		require.Len(t, codes, 2)

		now := base
		svc := &RedeemService{Store: st, Now: func() time.Time { return now }}

		_, err = svc.Redeem(ctx, codes[0], "10.0.0.1")
		require.NoError(t, err)

		now = base.Add(2 * time.Minute)
		_, err = svc.Redeem(ctx, codes[1], "10.0.0.1")
		require.NoError(t, err)

		rec, err := svc.MostRecentRedemption(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, codes[1], rec.Code)
	})

	t.Run("redemption outside the window is not returned", func(t *testing.T) {
		st := newTestStore(t)
		code := seedCode(t, st)

		now := base
		svc := &RedeemService{Store: st, Now: func() time.Time { return now }}

		_, err := svc.Redeem(ctx, code, "10.0.0.1")
		require.NoError(t, err)

		now = base.Add(DefaultGraceWindow + time.Second)
		_, err = svc.MostRecentRedemption(ctx, "10.0.0.1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
