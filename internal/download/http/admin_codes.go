package http

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/service"
	"github.com/aussiebroadwan/droplock/pkg/httpx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

// AdminCodesHandler bundles the authenticated code management endpoints.
type AdminCodesHandler struct {
	CodesService *service.CodesService
}

type generateRequest struct {
	Count int `json:"count"`
}

type generateResponse struct {
	Requested int `json:"requested"`
	Inserted  int `json:"inserted"`
}

// HandleGenerate mints a batch of new codes.
func (h *AdminCodesHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	inserted, err := h.CodesService.GenerateCodes(r.Context(), req.Count)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCount) {
			httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error": "count must be a positive integer",
			})
			return
		}
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "generation failed",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, generateResponse{
		Requested: req.Count,
		Inserted:  inserted,
	})
}

// HandleStats reports total/used/available counts.
func (h *AdminCodesHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.CodesService.Stats(r.Context())
	if err != nil {
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to count codes",
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

// HandleListUnused returns the remaining unredeemed codes as JSON.
func (h *AdminCodesHandler) HandleListUnused(w http.ResponseWriter, r *http.Request) {
	codes, err := h.CodesService.ListUnusedCodes(r.Context())
	if err != nil {
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list codes",
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"count": len(codes),
		"codes": codes,
	})
}

// HandleExportCSV streams the remaining unredeemed codes as a CSV attachment,
// one code per row, for handing off to whoever distributes them.
func (h *AdminCodesHandler) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	codes, err := h.CodesService.ListUnusedCodes(r.Context())
	if err != nil {
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list codes",
		})
		return
	}

	filename := "download-codes-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"code"})
	for _, code := range codes {
		_ = cw.Write([]string{code})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Error("csv export failed mid-stream", "error", err)
	}
}

// HandlePurge deletes every code record.
func (h *AdminCodesHandler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if err := h.CodesService.PurgeCodes(r.Context()); err != nil {
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "purge failed",
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "purged",
	})
}

// HandleReset purges all codes and reclaims database file space.
func (h *AdminCodesHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.CodesService.ResetCodes(r.Context()); err != nil {
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "reset failed",
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "reset",
	})
}
