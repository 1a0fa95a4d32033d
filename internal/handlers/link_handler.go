package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/hnnp-cloud/internal/services"
	"go.uber.org/zap"
)

type createLinkRequest struct {
	OrgID             string `json:"org_id"`
	PresenceSessionID string `json:"presence_session_id"`
	UserRef           string `json:"user_ref"`
	RegistrationBlob  string `json:"registration_blob,omitempty"`
}

type createLinkResponse struct {
	Status   string `json:"status"`
	LinkID   string `json:"link_id"`
	UserRef  string `json:"user_ref"`
	DeviceID string `json:"device_id"`
}

type revokeLinkResponse struct {
	Status    string    `json:"status"`
	LinkID    string    `json:"link_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

type LinkHandler struct {
	service *services.LinkService
	logger  *zap.Logger
}

func NewLinkHandler(service *services.LinkService, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{service: service, logger: logger}
}

// Create handles POST /v2/link.
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrgID == "" || req.PresenceSessionID == "" || req.UserRef == "" {
		writeError(w, http.StatusBadRequest, "org_id, presence_session_id and user_ref are required")
		return
	}

	link, err := h.service.CreateLink(r.Context(), services.CreateLinkRequest{
		OrgID:             req.OrgID,
		PresenceSessionID: req.PresenceSessionID,
		UserRef:           req.UserRef,
		RegistrationBlob:  req.RegistrationBlob,
	})
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, services.ErrMissingDeviceContext), errors.Is(err, services.ErrInvalidRegistration):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("create link failed", zap.String("org_id", req.OrgID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, createLinkResponse{
		Status:   "linked",
		LinkID:   link.ID,
		UserRef:  link.UserRef,
		DeviceID: link.DeviceID,
	})
}

// Revoke handles DELETE /v2/link/{linkId}. org_id comes from the query
// string or the JSON body.
func (h *LinkHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkId")

	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		var body struct {
			OrgID string `json:"org_id"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		orgID = body.OrgID
	}
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	link, err := h.service.RevokeLink(r.Context(), orgID, linkID)
	if errors.Is(err, services.ErrLinkNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("revoke link failed", zap.String("link_id", linkID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, revokeLinkResponse{
		Status:    "revoked",
		LinkID:    link.ID,
		RevokedAt: *link.RevokedAt,
	})
}
