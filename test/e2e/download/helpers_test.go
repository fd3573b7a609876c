package download_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	httpapi "github.com/aussiebroadwan/droplock/internal/download/http"
	"github.com/aussiebroadwan/droplock/internal/download/service"
	"github.com/aussiebroadwan/droplock/internal/download/store/drivers/sqlite"
	"github.com/aussiebroadwan/droplock/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "e2e-admin-password"
	testPayload  = "protected file payload for end to end tests"
)

type env struct {
	server   *httptest.Server
	store    *sqlite.Store
	codes    *service.CodesService
	signer   *service.URLSigner
	filePath string
}

// setupServer wires a full router over an in-memory store and a temp
// protected file, mirroring what the application does at startup.
func setupServer(t *testing.T) *env {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	filePath := filepath.Join(t.TempDir(), "release.zip")
	require.NoError(t, os.WriteFile(filePath, []byte(testPayload), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hash, err := cryptox.HashPassword(testPassword)
	require.NoError(t, err)

	signer := &service.URLSigner{
		Secret:    []byte("e2e-link-signing-secret"),
		TTL:       time.Minute, // long enough that a test never races it
		FetchPath: httpapi.FetchPath,
	}

	nonces, err := httpapi.NewNonceIssuer(0)
	require.NoError(t, err)

	router := httpapi.NewRouter("test", st, logger)
	router.CodesService = &service.CodesService{Store: st}
	router.RedeemService = &service.RedeemService{Store: st}
	router.Signer = signer
	router.Delivery = &service.FileDelivery{Path: filePath, Filename: "release.zip"}
	router.AdminSessions = &httpapi.AdminSessions{
		PasswordHash: hash,
		SigningKey:   []byte("e2e-session-signing-key"),
	}
	router.Nonces = nonces
	router.ApplyRoutes()

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &env{
		server:   server,
		store:    st,
		codes:    router.CodesService,
		signer:   signer,
		filePath: filePath,
	}
}

// noRedirectClient returns a client that surfaces redirects instead of
// following them, so tests can assert on Location targets.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// seedCodes generates n codes and returns them.
func (e *env) seedCodes(t *testing.T, n int) []string {
	t.Helper()

	inserted, err := e.codes.GenerateCodes(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, n, inserted)

	codes, err := e.codes.ListUnusedCodes(context.Background())
	require.NoError(t, err)
	require.Len(t, codes, n)
	return codes
}

// fetchNonce loads the form page as addr and extracts the embedded nonce.
func (e *env) fetchNonce(t *testing.T, addr string) string {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, e.server.URL+httpapi.FormPath, nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", addr)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	const marker = `name="nonce" value="`
	idx := strings.Index(string(body), marker)
	require.GreaterOrEqual(t, idx, 0, "form page must embed a nonce")
	rest := string(body)[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	require.Greater(t, end, 0)
	return rest[:end]
}

// submitCode posts code as addr and returns the response. The caller owns the
// response body.
func (e *env) submitCode(t *testing.T, addr, code string) *http.Response {
	t.Helper()

	form := url.Values{}
	form.Set("download_code", code)
	form.Set("nonce", e.fetchNonce(t, addr))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost,
		e.server.URL+httpapi.FormPath, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Forwarded-For", addr)

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	return resp
}

// redeemForLink submits code and requires a redirect to a capability URL,
// returning the relative link.
func (e *env) redeemForLink(t *testing.T, addr, code string) string {
	t.Helper()

	resp := e.submitCode(t, addr, code)
	defer resp.Body.Close()

	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(loc, httpapi.FetchPath+"?"), "expected capability URL, got %q", loc)
	require.NotContains(t, loc, code, "capability URL must not leak the code")
	return loc
}

// fetchLink follows a capability URL as addr.
func (e *env) fetchLink(t *testing.T, addr, link string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, e.server.URL+link, nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", addr)

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	return resp
}

// adminToken logs in and returns a bearer token.
func (e *env) adminToken(t *testing.T) string {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost,
		e.server.URL+"/v1/admin/login", strings.NewReader(`{"password":"`+testPassword+`"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	const marker = `"token":"`
	idx := strings.Index(string(body), marker)
	require.GreaterOrEqual(t, idx, 0)
	rest := string(body)[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	require.Greater(t, end, 0)
	return rest[:end]
}

// formRedirectMsg asserts resp is a redirect back to the form and returns the
// msg query value.
func formRedirectMsg(t *testing.T, resp *http.Response) string {
	t.Helper()

	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, httpapi.FormPath, loc.Path)
	return loc.Query().Get("msg")
}
