package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/droplock/pkg/cryptox"
)

// DefaultNonceTTL is how long a form nonce stays acceptable. Long enough for
// someone to type a code by hand, short enough that a captured page goes
// stale.
const DefaultNonceTTL = 30 * time.Minute

// NonceIssuer mints the anti-forgery nonces embedded in the download form.
// Nonces are stateless: an expiry timestamp plus an HMAC over it, keyed by an
// ephemeral per-process key, so a restart invalidates every outstanding form.
type NonceIssuer struct {
	// Key is the per-process nonce key, independent of the link-signing
	// secret.
	Key []byte

	// TTL is the nonce lifetime. Zero means DefaultNonceTTL.
	TTL time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewNonceIssuer creates an issuer with a fresh random key.
func NewNonceIssuer(ttl time.Duration) (*NonceIssuer, error) {
	key, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	return &NonceIssuer{Key: []byte(key), TTL: ttl}, nil
}

func (n *NonceIssuer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *NonceIssuer) ttl() time.Duration {
	if n.TTL > 0 {
		return n.TTL
	}
	return DefaultNonceTTL
}

// Issue returns a nonce valid until the TTL elapses.
func (n *NonceIssuer) Issue() string {
	expires := strconv.FormatInt(n.now().Add(n.ttl()).Unix(), 10)
	return expires + "." + cryptox.SignHMAC(n.Key, expires)
}

// Verify reports whether nonce is well-formed, unexpired and authentic.
func (n *NonceIssuer) Verify(nonce string) bool {
	expiresStr, sig, ok := strings.Cut(nonce, ".")
	if !ok {
		return false
	}
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil || n.now().Unix() > expires {
		return false
	}
	return cryptox.VerifyHMAC(n.Key, expiresStr, sig)
}
