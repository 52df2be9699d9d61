// Package api provides the HTTP handlers and routing for the local
// control API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/health"
	"boltzflow/internal/service"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains the HTTP handlers for the control API.
type Handler struct {
	svc    *service.Service
	health *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:    svc,
		health: healthChecker,
	}
}

// GetSettings handles GET /v1/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetSettings())
}

// SaveSettings handles PUT /v1/settings.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SaveSettings(r.Context(), req.APIKey); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection handles POST /v1/settings/test.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.TestConnection(r.Context()); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListCampaigns handles GET /v1/campaigns.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListCampaigns())
}

// CreateCampaign handles POST /v1/campaigns.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if !h.decode(w, r, &req) {
		return
	}
	campaign, err := h.svc.CreateCampaign(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

// GetCampaign handles GET /v1/campaigns/{campaignId}.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "campaignId")
	if !ok {
		return
	}
	campaign, err := h.svc.GetCampaign(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// RenameCampaign handles POST /v1/campaigns/{campaignId}/rename.
func (h *Handler) RenameCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "campaignId")
	if !ok {
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.RenameCampaign(r.Context(), id, req.DisplayName); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArchiveCampaign handles POST /v1/campaigns/{campaignId}/archive.
func (h *Handler) ArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	h.setCampaignArchived(w, r, true)
}

// UnarchiveCampaign handles POST /v1/campaigns/{campaignId}/unarchive.
func (h *Handler) UnarchiveCampaign(w http.ResponseWriter, r *http.Request) {
	h.setCampaignArchived(w, r, false)
}

func (h *Handler) setCampaignArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	id, ok := h.pathID(w, r, "campaignId")
	if !ok {
		return
	}
	if err := h.svc.SetCampaignArchived(r.Context(), id, archived); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateRun handles POST /v1/runs.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRunRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, err := h.svc.CreateRun(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	// Submission continues in the background; the snapshot is Pending.
	writeJSON(w, http.StatusAccepted, run)
}

// GetRun handles GET /v1/runs/{runId}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "runId")
	if !ok {
		return
	}
	run, err := h.svc.GetRun(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// RenameRun handles POST /v1/runs/{runId}/rename.
func (h *Handler) RenameRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "runId")
	if !ok {
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.RenameRun(r.Context(), id, req.DisplayName); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArchiveRun handles POST /v1/runs/{runId}/archive.
func (h *Handler) ArchiveRun(w http.ResponseWriter, r *http.Request) {
	h.setRunArchived(w, r, true)
}

// UnarchiveRun handles POST /v1/runs/{runId}/unarchive.
func (h *Handler) UnarchiveRun(w http.ResponseWriter, r *http.Request) {
	h.setRunArchived(w, r, false)
}

func (h *Handler) setRunArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	id, ok := h.pathID(w, r, "runId")
	if !ok {
		return
	}
	if err := h.svc.SetRunArchived(r.Context(), id, archived); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelRun handles POST /v1/runs/{runId}/cancel.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "runId")
	if !ok {
		return
	}
	if err := h.svc.CancelRun(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCompound handles GET /v1/compounds/{compoundId}.
func (h *Handler) GetCompound(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "compoundId")
	if !ok {
		return
	}
	compound, err := h.svc.GetCompound(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, compound)
}

// RetryCompound handles POST /v1/compounds/{compoundId}/retry.
func (h *Handler) RetryCompound(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "compoundId")
	if !ok {
		return
	}
	if err := h.svc.RetryCompound(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetStructure handles GET /v1/compounds/{compoundId}/structure.
// Query params: sample (default 0).
func (h *Handler) GetStructure(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, h.svc.StructurePath, "chemical/x-cif")
}

// GetPAE handles GET /v1/compounds/{compoundId}/pae.
// Query params: sample (default 0).
func (h *Handler) GetPAE(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, h.svc.PAEPath, "image/png")
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, resolve func(uuid.UUID, int) (string, error), contentType string) {
	id, ok := h.pathID(w, r, "compoundId")
	if !ok {
		return
	}
	sample := 0
	if raw := r.URL.Query().Get("sample"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "sample must be a non-negative integer")
			return
		}
		sample = n
	}
	path, err := resolve(id, sample)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 when the remote API is unreachable or shutdown has begun.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsServing() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// decode parses a JSON request body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// pathID parses a UUID path segment, writing a 400 on failure.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response. Middleware shares it so rejections
// carry the same shape as handler errors.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps service errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	writeError(w, status, err.Error())
}
