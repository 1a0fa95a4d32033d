package handlers

import (
	"net/http"
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/services"
	"go.uber.org/zap"
)

type debugStatusResponse struct {
	UptimeSeconds              int64 `json:"uptime_seconds"`
	PresenceEventCount         int64 `json:"presence_event_count"`
	ActivePresenceSessionCount int64 `json:"active_presence_session_count"`
	WebhookQueueSize           int64 `json:"webhook_queue_size"`
	WebhookDeadLetterSize      int64 `json:"webhook_dead_letter_size"`
}

type StatusHandler struct {
	presence   *services.PresenceService
	dispatcher *services.WebhookDispatcher
	startedAt  time.Time
	logger     *zap.Logger
}

func NewStatusHandler(presence *services.PresenceService, dispatcher *services.WebhookDispatcher, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		presence:   presence,
		dispatcher: dispatcher,
		startedAt:  time.Now(),
		logger:     logger,
	}
}

func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Debug("failed to write health response", zap.Error(err))
	}
}

// Debug handles GET /v2/debug/status.
func (h *StatusHandler) Debug(w http.ResponseWriter, r *http.Request) {
	events, sessions, err := h.presence.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to read presence stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	queued, dead, err := h.dispatcher.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to read webhook stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, debugStatusResponse{
		UptimeSeconds:              int64(time.Since(h.startedAt).Seconds()),
		PresenceEventCount:         events,
		ActivePresenceSessionCount: sessions,
		WebhookQueueSize:           queued,
		WebhookDeadLetterSize:      dead,
	})
}
