package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/prudhvinik1/hnnp-cloud/internal/services"
	"github.com/prudhvinik1/hnnp-cloud/internal/utils"
	"go.uber.org/zap"
)

var errMissingFields = errors.New("missing or invalid fields")

// presenceRequest uses pointers so that absent fields can be told apart
// from zero values.
type presenceRequest struct {
	OrgID       *string `json:"org_id"`
	ReceiverID  *string `json:"receiver_id"`
	Timestamp   *int64  `json:"timestamp"`
	TimeSlot    *int64  `json:"time_slot"`
	Version     *int64  `json:"version"`
	Flags       *int64  `json:"flags"`
	TokenPrefix *string `json:"token_prefix"`
	MAC         *string `json:"mac"`
	Signature   *string `json:"signature"`
}

type presenceResponse struct {
	Status              string   `json:"status"`
	Linked              bool     `json:"linked"`
	EventID             string   `json:"event_id"`
	DeviceID            string   `json:"device_id"`
	LinkID              string   `json:"link_id,omitempty"`
	UserRef             string   `json:"user_ref,omitempty"`
	PresenceSessionID   string   `json:"presence_session_id,omitempty"`
	SuspiciousDuplicate bool     `json:"suspicious_duplicate,omitempty"`
	SuspiciousFlags     []string `json:"suspicious_flags,omitempty"`
}

type PresenceHandler struct {
	service *services.PresenceService
	logger  *zap.Logger
}

func NewPresenceHandler(service *services.PresenceService, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{service: service, logger: logger}
}

// Submit handles POST /v2/presence.
func (h *PresenceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := req.toReport()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Submit(r.Context(), report)
	if err != nil {
		var perr *services.PresenceError
		if errors.As(err, &perr) {
			writeError(w, perr.Kind.HTTPStatus(), perr.Message)
			return
		}
		h.logger.Error("presence submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, presenceResponse{
		Status:              "accepted",
		Linked:              result.Linked,
		EventID:             result.EventID,
		DeviceID:            result.DeviceID,
		LinkID:              result.LinkID,
		UserRef:             result.UserRef,
		PresenceSessionID:   result.PresenceSessionID,
		SuspiciousDuplicate: result.SuspiciousDuplicate,
		SuspiciousFlags:     result.SuspiciousFlags.Strings(),
	})
}

func (req *presenceRequest) toReport() (*models.PresenceReport, error) {
	if req.OrgID == nil || *req.OrgID == "" || req.ReceiverID == nil || *req.ReceiverID == "" ||
		req.Timestamp == nil || req.TimeSlot == nil || req.Version == nil || req.Flags == nil ||
		req.TokenPrefix == nil || req.MAC == nil || req.Signature == nil {
		return nil, errMissingFields
	}
	if *req.Timestamp < 0 || *req.Timestamp > math.MaxUint32 {
		return nil, errors.New("timestamp out of range")
	}
	if *req.TimeSlot < 0 || *req.TimeSlot > math.MaxUint32 {
		return nil, errors.New("time_slot out of range")
	}
	if *req.Version < 0 || *req.Version > math.MaxUint8 || *req.Flags < 0 || *req.Flags > math.MaxUint8 {
		return nil, errors.New("version and flags must be single bytes")
	}

	prefix, err := utils.DecodeHexExact(*req.TokenPrefix, utils.TokenPrefixLength)
	if err != nil {
		return nil, fmt.Errorf("token_prefix: %w", err)
	}
	mac, err := utils.DecodeHexExact(*req.MAC, utils.MacLength)
	if err != nil {
		return nil, fmt.Errorf("mac: %w", err)
	}
	sig, err := utils.DecodeHexExact(*req.Signature, utils.SignatureLength)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	return &models.PresenceReport{
		OrgID:       *req.OrgID,
		ReceiverID:  *req.ReceiverID,
		Timestamp:   *req.Timestamp,
		TimeSlot:    uint32(*req.TimeSlot),
		Version:     uint8(*req.Version),
		Flags:       uint8(*req.Flags),
		TokenPrefix: prefix,
		MAC:         mac,
		Signature:   sig,
	}, nil
}
