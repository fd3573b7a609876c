package service

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSigner(now time.Time) *URLSigner {
	return &URLSigner{
		Secret:    []byte("test-signing-secret"),
		TTL:       time.Second,
		FetchPath: "/download/file",
		Now:       func() time.Time { return now },
	}
}

// issuedParams parses an issued link back into its query parts.
func issuedParams(t *testing.T, link string) url.Values {
	t.Helper()

	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query()
}

func TestIssue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("link carries token, expiry and signature but never the code", func(t *testing.T) {
		s := newTestSigner(now)

		link, err := s.Issue("ABC234")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(link, "/download/file?"))
		require.NotContains(t, link, "ABC234")

		q := issuedParams(t, link)
		require.Equal(t, "1", q.Get("dl"))
		require.NotEmpty(t, q.Get("token"))
		require.Len(t, q.Get("sig"), 64) // hex sha256
		require.Equal(t, strconv.FormatInt(now.Add(time.Second).Unix(), 10), q.Get("expires"))
	})

	t.Run("links for the same code are unique", func(t *testing.T) {
		s := newTestSigner(now)

		a, err := s.Issue("ABC234")
		require.NoError(t, err)
		b, err := s.Issue("ABC234")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})
}

func TestVerifyExpiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("current link passes", func(t *testing.T) {
		s := newTestSigner(now)
		require.NoError(t, s.VerifyExpiry(now.Add(time.Second).Unix()))
	})

	t.Run("expiry second itself still passes", func(t *testing.T) {
		s := newTestSigner(now)
		require.NoError(t, s.VerifyExpiry(now.Unix()))
	})

	t.Run("past expiry fails", func(t *testing.T) {
		s := newTestSigner(now)
		require.ErrorIs(t, s.VerifyExpiry(now.Add(-time.Second).Unix()), ErrLinkExpired)
	})
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issue := func(t *testing.T, s *URLSigner, code string) (int64, string, string) {
		t.Helper()
		link, err := s.Issue(code)
		require.NoError(t, err)
		q := issuedParams(t, link)
		expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
		require.NoError(t, err)
		return expires, q.Get("token"), q.Get("sig")
	}

	t.Run("round trip verifies", func(t *testing.T) {
		s := newTestSigner(now)
		expires, token, sig := issue(t, s, "ABC234")
		require.NoError(t, s.VerifySignature("ABC234", expires, token, sig))
	})

	t.Run("wrong code fails", func(t *testing.T) {
		s := newTestSigner(now)
		expires, token, sig := issue(t, s, "ABC234")
		require.ErrorIs(t, s.VerifySignature("XYZ789", expires, token, sig), ErrAccessDenied)
	})

	t.Run("shifted expiry fails", func(t *testing.T) {
		s := newTestSigner(now)
		expires, token, sig := issue(t, s, "ABC234")
		require.ErrorIs(t, s.VerifySignature("ABC234", expires+60, token, sig), ErrAccessDenied)
	})

	t.Run("swapped token fails", func(t *testing.T) {
		s := newTestSigner(now)
		expires, _, sig := issue(t, s, "ABC234")
		require.ErrorIs(t, s.VerifySignature("ABC234", expires, "forged-token", sig), ErrAccessDenied)
	})

	t.Run("tampered signature fails", func(t *testing.T) {
		s := newTestSigner(now)
		expires, token, sig := issue(t, s, "ABC234")
		tampered := "0" + sig[1:]
		if tampered == sig {
			tampered = "1" + sig[1:]
		}
		require.ErrorIs(t, s.VerifySignature("ABC234", expires, token, tampered), ErrAccessDenied)
	})

	t.Run("different secret fails", func(t *testing.T) {
		s := newTestSigner(now)
		expires, token, sig := issue(t, s, "ABC234")

		other := newTestSigner(now)
		other.Secret = []byte("another-secret")
		require.ErrorIs(t, other.VerifySignature("ABC234", expires, token, sig), ErrAccessDenied)
	})
}
