package http

import (
	"encoding/json"
	"net/http"

	"github.com/aussiebroadwan/droplock/pkg/httpx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// AdminLoginHandler exchanges the admin password for a bearer token.
type AdminLoginHandler struct {
	Sessions *AdminSessions
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

type adminLoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt int64  `json:"expires_at"`
}

func (h *AdminLoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	token, expiresAt, err := h.Sessions.Login(req.Password)
	if err != nil {
		log.Warn("admin login rejected", "addr", httpx.ClientIP(r))
		httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid credentials",
		})
		return
	}

	log.Info("admin logged in", "addr", httpx.ClientIP(r))
	httpx.WriteJSON(w, http.StatusOK, adminLoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt.Unix(),
	})
}
