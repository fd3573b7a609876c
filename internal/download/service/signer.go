package service

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/aussiebroadwan/droplock/pkg/cryptox"
)

var (
	// ErrLinkExpired means the capability URL's TTL passed before the fetch.
	// Recoverable: the user resubmits the code for a fresh link.
	ErrLinkExpired = errors.New("download link expired")

	// ErrAccessDenied covers signature mismatch and a missing recent
	// redemption for the requesting address. Indistinguishable from expiry
	// for the user, logged distinctly on the server.
	ErrAccessDenied = errors.New("download access denied")
)

// DefaultLinkTTL is deliberately aggressive: the capability URL is followed
// by the browser's own redirect, never shared or bookmarked.
const DefaultLinkTTL = 1 * time.Second

// URLSigner mints and verifies the HMAC-signed capability URLs that gate the
// protected file. It is the only component holding the process secret key.
type URLSigner struct {
	// Secret is the process-wide HMAC key. Never logged.
	Secret []byte

	// TTL is the capability URL lifetime. Zero means DefaultLinkTTL.
	TTL time.Duration

	// FetchPath is the path of the capability fetch endpoint.
	FetchPath string

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *URLSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *URLSigner) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultLinkTTL
}

// Issue mints a capability URL for a just-redeemed code. The random token
// makes every issued URL unique even for the same code; the code itself never
// appears in the URL and is re-derived at fetch time from the store.
func (s *URLSigner) Issue(code string) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("failed to generate link token: %w", err)
	}

	expires := s.now().Add(s.ttl()).Unix()
	sig := cryptox.SignHMAC(s.Secret, signingPayload(code, expires, token))

	q := url.Values{}
	q.Set("dl", "1")
	q.Set("token", token)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", sig)

	return s.FetchPath + "?" + q.Encode(), nil
}

// VerifyExpiry fails with ErrLinkExpired once the expiry timestamp has
// passed. It is checked before any store work at fetch time.
func (s *URLSigner) VerifyExpiry(expires int64) error {
	if s.now().Unix() > expires {
		return ErrLinkExpired
	}
	return nil
}

// VerifySignature checks sig against the recovered code, expiry and token in
// constant time. Any mismatch, from tampering to a wrong recovered code,
// fails with ErrAccessDenied.
func (s *URLSigner) VerifySignature(code string, expires int64, token, sig string) error {
	if !cryptox.VerifyHMAC(s.Secret, signingPayload(code, expires, token), sig) {
		return ErrAccessDenied
	}
	return nil
}

func signingPayload(code string, expires int64, token string) string {
	return code + "|" + strconv.FormatInt(expires, 10) + "|" + token
}
