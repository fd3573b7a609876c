package http

import (
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/droplock/internal/download/domain"
	"github.com/aussiebroadwan/droplock/internal/download/service"
	"github.com/aussiebroadwan/droplock/pkg/httpx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// RedeemHandler accepts the posted code and either redirects the browser to a
// freshly signed capability URL or back to the form with a message key. The
// code itself never appears in a redirect target.
type RedeemHandler struct {
	RedeemService *service.RedeemService
	Signer        *service.URLSigner
	Nonces        *NonceIssuer
}

func (h *RedeemHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		h.backToForm(w, r, "invalid")
		return
	}

	// A stale or forged nonce is indistinguishable from a bad submission as
	// far as the user is concerned.
	if !h.Nonces.Verify(r.PostFormValue("nonce")) {
		log.Warn("code submission with bad or stale nonce")
		h.backToForm(w, r, "invalid")
		return
	}

	addr := httpx.ClientIP(r)
	outcome, err := h.RedeemService.Redeem(r.Context(), r.PostFormValue("download_code"), addr)
	if err != nil {
		httpx.WritePlain(w, http.StatusInternalServerError, "Something went wrong. Try again shortly.")
		return
	}

	switch outcome {
	case domain.RedeemValid:
		// The redirect target carries only the signed token; the code is
		// recovered at fetch time from this address's recent redemption.
		code, err := h.RedeemService.MostRecentRedemption(r.Context(), addr)
		if err != nil {
			log.Error("redeemed code not recoverable for link signing", "error", err)
			httpx.WritePlain(w, http.StatusInternalServerError, "Something went wrong. Try again shortly.")
			return
		}
		link, err := h.Signer.Issue(code.Code)
		if err != nil {
			log.Error("failed to sign download link", "error", err)
			httpx.WritePlain(w, http.StatusInternalServerError, "Something went wrong. Try again shortly.")
			return
		}
		http.Redirect(w, r, link, http.StatusSeeOther)
	case domain.RedeemAlreadyUsed:
		h.backToForm(w, r, "already_used")
	case domain.RedeemMaxAttempts:
		h.backToForm(w, r, "max_attempts")
	default:
		h.backToForm(w, r, "invalid")
	}
}

func (h *RedeemHandler) backToForm(w http.ResponseWriter, r *http.Request, msg string) {
	q := url.Values{}
	q.Set("msg", msg)
	httpx.RedirectWithQuery(w, r, FormPath, q)
}
