package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/service"
	"github.com/aussiebroadwan/droplock/internal/download/store"
	"github.com/aussiebroadwan/droplock/pkg/httpx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// Paths of the public download surface. The form posts to itself and
// redirects either back (with an error indicator) or to the capability URL.
const (
	FormPath  = "/download"
	FetchPath = "/download/file"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store

	CodesService  *service.CodesService
	RedeemService *service.RedeemService
	Signer        *service.URLSigner
	Delivery      *service.FileDelivery
	AdminSessions *AdminSessions
	Nonces        *NonceIssuer
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerDownload()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerDownload() {
	formHandler := &FormHandler{Nonces: r.Nonces}
	redeemHandler := &RedeemHandler{
		RedeemService: r.RedeemService,
		Signer:        r.Signer,
		Nonces:        r.Nonces,
	}
	fetchHandler := &FetchHandler{
		RedeemService: r.RedeemService,
		Signer:        r.Signer,
		Delivery:      r.Delivery,
	}

	// GET /download - the code entry form, cheap to render
	r.Mux.Handle("GET "+FormPath,
		httpx.Chain(formHandler,
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// POST /download - code submission; strict per-IP limit blunts guessing
	r.Mux.Handle("POST "+FormPath,
		httpx.Chain(redeemHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// GET /download/file - capability fetch; the signature does the real
	// gatekeeping, the limit just caps abuse
	r.Mux.Handle("GET "+FetchPath,
		httpx.Chain(fetchHandler,
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerAdmin() {
	loginHandler := &AdminLoginHandler{Sessions: r.AdminSessions}
	codesHandler := &AdminCodesHandler{CodesService: r.CodesService}

	// POST /v1/admin/login - strict rate limit by IP (credential endpoint)
	r.Mux.Handle("POST /v1/admin/login",
		httpx.Chain(loginHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	secured := func(h http.Handler) http.Handler {
		return httpx.Chain(h,
			r.AdminSessions.Middleware(),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("POST /v1/admin/codes/generate", secured(http.HandlerFunc(codesHandler.HandleGenerate)))
	r.Mux.Handle("GET /v1/admin/codes/stats", secured(http.HandlerFunc(codesHandler.HandleStats)))
	r.Mux.Handle("GET /v1/admin/codes/unused", secured(http.HandlerFunc(codesHandler.HandleListUnused)))
	r.Mux.Handle("GET /v1/admin/codes/export", secured(http.HandlerFunc(codesHandler.HandleExportCSV)))
	r.Mux.Handle("DELETE /v1/admin/codes", secured(http.HandlerFunc(codesHandler.HandlePurge)))
	r.Mux.Handle("POST /v1/admin/codes/reset", secured(http.HandlerFunc(codesHandler.HandleReset)))
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.Delivery),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
