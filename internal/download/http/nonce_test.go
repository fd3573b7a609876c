package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNonceIssuer(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("round trip verifies", func(t *testing.T) {
		n, err := NewNonceIssuer(0)
		require.NoError(t, err)

		require.True(t, n.Verify(n.Issue()))
	})

	t.Run("expired nonce is rejected", func(t *testing.T) {
		now := base
		n, err := NewNonceIssuer(time.Minute)
		require.NoError(t, err)
		n.Now = func() time.Time { return now }

		nonce := n.Issue()
		now = base.Add(2 * time.Minute)
		require.False(t, n.Verify(nonce))
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		n, err := NewNonceIssuer(0)
		require.NoError(t, err)

		require.False(t, n.Verify(""))
		require.False(t, n.Verify("no-separator"))
		require.False(t, n.Verify("notanumber.abcdef"))
	})

	t.Run("nonce from another key is rejected", func(t *testing.T) {
		a, err := NewNonceIssuer(0)
		require.NoError(t, err)
		b, err := NewNonceIssuer(0)
		require.NoError(t, err)

		require.False(t, b.Verify(a.Issue()))
	})
}
