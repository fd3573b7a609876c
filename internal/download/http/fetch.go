package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/droplock/internal/download/service"
	"github.com/aussiebroadwan/droplock/internal/download/store"
	"github.com/aussiebroadwan/droplock/pkg/httpx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// FetchHandler serves the protected file to a bearer of a valid capability
// URL. Verification runs cheapest-first: expiry, then the address's recent
// redemption, then the HMAC signature, then the stream.
type FetchHandler struct {
	RedeemService *service.RedeemService
	Signer        *service.URLSigner
	Delivery      *service.FileDelivery
}

func (h *FetchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())
	q := r.URL.Query()

	if q.Get("dl") != "1" {
		h.deny(w)
		return
	}

	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		log.Warn("fetch with malformed expiry")
		h.deny(w)
		return
	}
	if err := h.Signer.VerifyExpiry(expires); err != nil {
		log.Warn("fetch with expired link")
		h.deny(w)
		return
	}

	// The URL never carries the code. Recover it from the most recent
	// redemption by this address; absence means the link was not minted for
	// this caller.
	addr := httpx.ClientIP(r)
	rec, err := h.RedeemService.MostRecentRedemption(r.Context(), addr)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("fetch with no recent redemption", "addr", addr)
		h.deny(w)
		return
	}
	if err != nil {
		log.Error("failed to resolve redemption", "error", err)
		httpx.WritePlain(w, http.StatusInternalServerError, "Something went wrong. Try again shortly.")
		return
	}

	if err := h.Signer.VerifySignature(rec.Code, expires, q.Get("token"), q.Get("sig")); err != nil {
		log.Warn("fetch with bad signature", "addr", addr)
		h.deny(w)
		return
	}

	if err := h.Delivery.Serve(w, r); err != nil {
		if errors.Is(err, service.ErrFileMissing) {
			log.Error("protected file missing at fetch time")
			httpx.WritePlain(w, http.StatusNotFound, "The file is currently unavailable. Contact the distributor.")
			return
		}
		// Headers are likely already sent mid-stream; just record it.
		log.Error("file delivery failed", "error", err)
	}
}

// deny writes the shared 403 body. Expired and tampered links read the same
// to the client; the distinction lives in the server log.
func (h *FetchHandler) deny(w http.ResponseWriter) {
	httpx.WritePlain(w, http.StatusForbidden,
		"This download link has expired or is invalid. Please enter your code again.")
}
