package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soundlens/soundlens/internal/cache"
	"github.com/soundlens/soundlens/internal/models"
)

// SyncService is the slice of the sync engine the HTTP surface depends on.
type SyncService interface {
	SyncUserData(ctx context.Context, userID string) *models.SyncResult
	GetSyncStatus(ctx context.Context, userID string) (*models.SyncStatus, error)
}

// syncResponse is the envelope returned by a manual sync trigger.
type syncResponse struct {
	Message string             `json:"message"`
	Synced  *models.SyncResult `json:"synced"`
}

// SyncHandler serves the sync endpoint: POST triggers a run for the calling
// user, GET reports connection and schedule status.
type SyncHandler struct {
	syncer    SyncService
	cache     *cache.Service
	resolve   UserResolver
	logger    *log.Logger
	statusTTL time.Duration
}

// NewSyncHandler creates a handler around the given sync service. The cache
// may be nil, which disables status memoization.
func NewSyncHandler(syncer SyncService, cacheSvc *cache.Service, resolve UserResolver, statusTTL time.Duration, logger *log.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:    syncer,
		cache:     cacheSvc,
		resolve:   resolve,
		logger:    logger,
		statusTTL: statusTTL,
	}
}

// Routes returns the path patterns this handler serves.
func (h *SyncHandler) Routes() []string {
	return []string{"/sync"}
}

// ServeHTTP dispatches on method. Any panic below the dispatch is converted
// into a generic 500 so a single bad run cannot take the server down.
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("sync handler panicked", "panic", rec)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to sync Spotify data"})
		}
	}()

	userID, err := h.resolve(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.triggerSync(w, r, userID)
	case http.MethodGet:
		h.syncStatus(w, r, userID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SyncHandler) triggerSync(w http.ResponseWriter, r *http.Request, userID string) {
	result := h.syncer.SyncUserData(r.Context(), userID)

	// A completed run changes the schedule, so the cached status is stale.
	if err := h.cache.Delete(r.Context(), statusKey(userID)); err != nil {
		h.logger.Warn("failed to invalidate status cache", "user_id", userID, "error", err)
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Message: "Sync completed successfully",
		Synced:  result,
	})
}

func (h *SyncHandler) syncStatus(w http.ResponseWriter, r *http.Request, userID string) {
	key := statusKey(userID)

	var cached models.SyncStatus
	hit, err := h.cache.GetJSON(r.Context(), key, &cached)
	if err != nil {
		h.logger.Warn("status cache read failed", "user_id", userID, "error", err)
	}
	if hit {
		writeJSON(w, http.StatusOK, &cached)
		return
	}

	status, err := h.syncer.GetSyncStatus(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load sync status", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to get sync status"})
		return
	}

	if err := h.cache.SetJSON(r.Context(), key, status, h.statusTTL); err != nil {
		h.logger.Warn("status cache write failed", "user_id", userID, "error", err)
	}

	writeJSON(w, http.StatusOK, status)
}

func statusKey(userID string) string {
	return "sync_status:" + userID
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
