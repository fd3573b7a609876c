package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/droplock/pkg/cryptox"
	"github.com/aussiebroadwan/droplock/pkg/httpx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// DefaultSessionTTL is how long an admin bearer token stays valid.
const DefaultSessionTTL = 1 * time.Hour

const sessionIssuer = "droplock"

// ErrBadCredentials is returned by Login for a wrong or unconfigured password.
var ErrBadCredentials = errors.New("bad credentials")

// AdminSessions authenticates the single admin identity. Login verifies the
// configured argon2id password hash and mints an HS256 bearer token; the
// middleware gates every other admin endpoint on that token.
type AdminSessions struct {
	// PasswordHash is the PHC-encoded argon2id hash of the admin password.
	// Empty means admin login is disabled and Login always fails.
	PasswordHash string

	// SigningKey signs session tokens. Independent of the link-signing
	// secret.
	SigningKey []byte

	// TTL is the session lifetime. Zero means DefaultSessionTTL.
	TTL time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *AdminSessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AdminSessions) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultSessionTTL
}

// Login checks password against the configured hash and returns a signed
// bearer token with its expiry.
func (s *AdminSessions) Login(password string) (string, time.Time, error) {
	if s.PasswordHash == "" {
		return "", time.Time{}, ErrBadCredentials
	}
	if err := cryptox.VerifyPassword(password, s.PasswordHash); err != nil {
		return "", time.Time{}, ErrBadCredentials
	}

	now := s.now()
	expiresAt := now.Add(s.ttl())
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify validates a bearer token previously minted by Login.
func (s *AdminSessions) Verify(token string) error {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return s.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwt.ErrTokenUnverifiable
	}
	return nil
}

// Middleware rejects requests without a valid Authorization bearer token.
func (s *AdminSessions) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "missing bearer token",
				})
				return
			}

			if err := s.Verify(token); err != nil {
				log.Warn("admin request with invalid token", "error", err)
				httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "invalid or expired token",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
