// Package httpapi exposes the read/operate surface named in §8's
// expansion: listing stored incidents, quarantine entries, and
// maintenance windows, replaying a dead-letter entry, and activating a
// config version. Business logic lives entirely in internal/correlator,
// internal/quarantine, internal/dlq, and internal/configstore; these
// handlers only translate HTTP to those packages, following the
// teacher's internal/handlers + internal/api split.
package httpapi

import (
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/api"
	"github.com/ngs-project/noisegate/internal/configstore"
	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/dlq"
	"github.com/ngs-project/noisegate/internal/quarantine"
)

// Handler wires the read/operate endpoints to a database handle.
type Handler struct {
	DB *gorm.DB
}

// New builds a Handler.
func New(db *gorm.DB) *Handler {
	return &Handler{DB: db}
}

// Routes registers every endpoint on mux, grounded on the teacher's
// HTTPHandler.SetupRoutes.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/incidents", h.handleListIncidents)
	mux.HandleFunc("/api/quarantine", h.handleListQuarantine)
	mux.HandleFunc("/api/quarantine/review", h.handleReviewQuarantine)
	mux.HandleFunc("/api/maintenance-windows", h.handleListMaintenanceWindows)
	mux.HandleFunc("/api/dlq/replay", h.handleReplayDLQEntry)
	mux.HandleFunc("/api/config/activate", h.handleActivateConfig)
}

// handleListIncidents handles GET /api/incidents, optionally filtered by
// status and paginated.
func (h *Handler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := h.DB.Model(&database.Incident{}).Order("last_seen_at DESC")
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	params := api.ParsePagination(r)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		api.RespondError(w, http.StatusInternalServerError, "failed to count incidents")
		return
	}

	var incidents []database.Incident
	if err := query.Offset(params.Offset()).Limit(params.PerPage).Find(&incidents).Error; err != nil {
		api.RespondError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data: incidents,
		Pagination: api.PaginationMeta{
			Page:       params.Page,
			PerPage:    params.PerPage,
			Total:      total,
			TotalPages: params.TotalPages(total),
		},
	})
}

// handleListQuarantine handles GET /api/quarantine, returning pending
// entries by default or aggregate stats when ?stats=1.
func (h *Handler) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Query().Get("stats") == "1" {
		stats, err := quarantine.GetStats(h.DB)
		if err != nil {
			api.RespondError(w, http.StatusInternalServerError, "failed to compute quarantine stats")
			return
		}
		api.RespondJSON(w, http.StatusOK, stats)
		return
	}

	params := api.ParsePagination(r)
	entries, err := quarantine.Pending(h.DB, params.PerPage, params.Offset())
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "failed to list quarantine entries")
		return
	}
	api.RespondJSON(w, http.StatusOK, entries)
}

// reviewQuarantineRequest is the body for POST /api/quarantine/review.
type reviewQuarantineRequest struct {
	QuarantineID uint                   `json:"quarantine_id"`
	Outcome      database.ReviewOutcome `json:"outcome"`
	Reviewer     string                 `json:"reviewer"`
	EditedData   database.JSONB         `json:"edited_data,omitempty"`
	Note         string                 `json:"note,omitempty"`
}

// handleReviewQuarantine handles POST /api/quarantine/review, approving,
// editing, or rejecting a pending quarantine entry.
func (h *Handler) handleReviewQuarantine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req reviewQuarantineRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.QuarantineID == 0 || req.Reviewer == "" {
		api.RespondError(w, http.StatusBadRequest, "quarantine_id and reviewer are required")
		return
	}

	err := quarantine.Review(h.DB, req.QuarantineID, req.Outcome, req.Reviewer, req.EditedData, req.Note, time.Now())
	if err == gorm.ErrRecordNotFound {
		api.RespondError(w, http.StatusNotFound, "quarantine entry not found or already reviewed")
		return
	}
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "failed to review quarantine entry")
		return
	}
	api.RespondNoContent(w)
}

// handleListMaintenanceWindows handles GET /api/maintenance-windows,
// optionally filtered to only active=true windows.
func (h *Handler) handleListMaintenanceWindows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := h.DB.Model(&database.MaintenanceWindow{}).Order("start_at DESC")
	if r.URL.Query().Get("active") == "true" {
		now := time.Now()
		query = query.Where("is_active = ? AND start_at <= ? AND end_at >= ?", true, now, now)
	}

	params := api.ParsePagination(r)
	var windows []database.MaintenanceWindow
	if err := query.Offset(params.Offset()).Limit(params.PerPage).Find(&windows).Error; err != nil {
		api.RespondError(w, http.StatusInternalServerError, "failed to list maintenance windows")
		return
	}
	api.RespondJSON(w, http.StatusOK, windows)
}

// replayDLQRequest is the body for POST /api/dlq/replay.
type replayDLQRequest struct {
	UUID string `json:"uuid"`
}

// handleReplayDLQEntry handles POST /api/dlq/replay, forcing an
// operator-triggered immediate retry of one dead-letter entry.
func (h *Handler) handleReplayDLQEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req replayDLQRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UUID == "" {
		api.RespondError(w, http.StatusBadRequest, "uuid is required")
		return
	}

	entry, err := dlq.Requeue(h.DB, req.UUID, time.Now())
	if err != nil {
		api.RespondError(w, http.StatusNotFound, "dead-letter entry not found")
		return
	}
	api.RespondJSON(w, http.StatusOK, entry)
}

// activateConfigRequest is the body for POST /api/config/activate.
type activateConfigRequest struct {
	Section   string `json:"section"`
	VersionID uint   `json:"version_id"`
}

// handleActivateConfig handles POST /api/config/activate, making a
// previously stored config version the active one for its section (the
// "reload config" operation: runtime readers of configstore.GetActive
// pick up the change on their next lookup, no process restart needed).
func (h *Handler) handleActivateConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req activateConfigRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Section == "" || req.VersionID == 0 {
		api.RespondError(w, http.StatusBadRequest, "section and version_id are required")
		return
	}

	if err := configstore.Activate(h.DB, req.Section, req.VersionID, time.Now()); err != nil {
		api.RespondError(w, http.StatusBadRequest, "failed to activate config version: "+err.Error())
		return
	}

	active, err := configstore.GetActive(h.DB, req.Section)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "activated but failed to reload")
		return
	}
	api.RespondJSON(w, http.StatusOK, active)
}
