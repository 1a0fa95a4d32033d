package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/hnnp-cloud/internal/config"
	"github.com/prudhvinik1/hnnp-cloud/internal/logging"
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/prudhvinik1/hnnp-cloud/internal/repositories"
	"github.com/prudhvinik1/hnnp-cloud/internal/utils"
	"go.uber.org/zap"
)

// ProtocolVersion is the only accepted report version.
const ProtocolVersion = 0x02

type PresenceConfig struct {
	DeviceIDSalt            string
	Window                  TimeWindow
	Fusion                  FusionConfig
	LocalBeaconNonceEnabled bool
	AnonMode                config.AnonMode
	SessionTimeout          time.Duration
	HistoryLimit            int
}

func NewPresenceConfig(cfg *config.Config) PresenceConfig {
	return PresenceConfig{
		DeviceIDSalt: cfg.DeviceIDSalt,
		Window: TimeWindow{
			MaxSkewSeconds: cfg.MaxSkewSeconds,
			MaxDriftSlots:  cfg.MaxDriftSlots,
		},
		Fusion: FusionConfig{
			DuplicateSuppressSeconds: cfg.DuplicateSuppressSeconds,
			ImpossibleTravelSeconds:  cfg.ImpossibleTravelSeconds,
			HardenedMode:             cfg.HardenedMode,
		},
		LocalBeaconNonceEnabled: cfg.LocalBeaconNonceEnabled,
		AnonMode:                cfg.AnonMode,
		SessionTimeout:          cfg.SessionTimeout,
		HistoryLimit:            cfg.MaxEventsPerDevice,
	}
}

type PresenceResult struct {
	EventID             string
	DeviceID            string
	Linked              bool
	LinkID              string
	UserRef             string
	PresenceSessionID   string
	SuspiciousDuplicate bool
	SuspiciousFlags     models.FlagSet
}

type PresenceService struct {
	receivers  repositories.ReceiverRepository
	deviceKeys repositories.DeviceKeyRepository
	links      repositories.LinkRepository
	events     repositories.PresenceEventRepository
	sessions   repositories.PresenceSessionRepository
	webhooks   WebhookEnqueuer
	locker     *DeviceLocker
	cfg        PresenceConfig
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time
}

func NewPresenceService(
	receivers repositories.ReceiverRepository,
	deviceKeys repositories.DeviceKeyRepository,
	links repositories.LinkRepository,
	events repositories.PresenceEventRepository,
	sessions repositories.PresenceSessionRepository,
	webhooks WebhookEnqueuer,
	locker *DeviceLocker,
	cfg PresenceConfig,
	logger *zap.Logger,
	metrics *Metrics,
) *PresenceService {
	return &PresenceService{
		receivers:  receivers,
		deviceKeys: deviceKeys,
		links:      links,
		events:     events,
		sessions:   sessions,
		webhooks:   webhooks,
		locker:     locker,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// WithClock overrides the service's time source.
func (s *PresenceService) WithClock(now func() time.Time) *PresenceService {
	s.now = now
	return s
}

// Submit runs a relayed report through verification, fusion and session
// bookkeeping. Rejections are returned as *PresenceError and, once the
// report names a known org and receiver, recorded in the event log.
func (s *PresenceService) Submit(ctx context.Context, report *models.PresenceReport) (*PresenceResult, error) {
	if report.Version != ProtocolVersion {
		return nil, newPresenceError(KindMalformed, "", "Unsupported version; expected 0x02")
	}

	event := s.newEvent(report)

	receiverSecret, err := s.receivers.GetSecret(ctx, report.OrgID, report.ReceiverID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && receiverSecret == "") {
		return nil, s.reject(ctx, event, newPresenceError(KindAuthentication,
			models.AuthRejectedReceiverSecret, "Unknown receiver or secret not configured"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receiver secret: %w", err)
	}

	if !VerifyReceiverSignature(receiverSecret, report) {
		return nil, s.reject(ctx, event, newPresenceError(KindAuthentication,
			models.AuthRejectedSignature, "Invalid receiver signature"))
	}

	if perr := s.cfg.Window.Check(s.now(), report.Timestamp, report.TimeSlot); perr != nil {
		return nil, s.reject(ctx, event, perr)
	}

	if s.cfg.DeviceIDSalt == "" {
		return nil, s.reject(ctx, event, newPresenceError(KindConfiguration,
			models.AuthRejectedServerConfig, "device_id_salt not configured"))
	}

	identity := DeriveDeviceIdentity(s.cfg.DeviceIDSalt, report.TimeSlot, report.TokenPrefix)
	event.DeviceID = identity.DeviceID
	event.DeviceIDBase = identity.DeviceIDBase

	unlock := s.locker.Lock(report.OrgID, identity.DeviceID)
	result, payload, err := s.decide(ctx, report, receiverSecret, event)
	unlock()
	if err != nil {
		return nil, err
	}

	s.metrics.observeReport(string(models.AuthAccepted), result.SuspiciousFlags.Strings())
	s.logger.Info("presence accepted",
		zap.String("event_id", result.EventID),
		zap.String("org_id", report.OrgID),
		zap.String("receiver_id", report.ReceiverID),
		logging.Redacted("device_id", result.DeviceID),
		zap.Bool("linked", result.Linked),
		zap.Strings("suspicious_flags", result.SuspiciousFlags.Strings()),
	)

	if err := s.webhooks.Enqueue(ctx, report.OrgID, payloadType(payload), payload); err != nil {
		s.logger.Error("failed to enqueue presence webhook", zap.String("event_id", result.EventID), zap.Error(err))
	}
	return result, nil
}

// decide holds the per-device lock: every read of device history and every
// write that a later report could observe happens here.
func (s *PresenceService) decide(ctx context.Context, report *models.PresenceReport, receiverSecret string, event *models.PresenceEvent) (*PresenceResult, any, error) {
	var base models.FlagSet

	keyRecord, err := s.deviceKeys.Get(ctx, report.OrgID, event.DeviceID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to get device key: %w", err)
	}
	if keyRecord != nil {
		deviceKey, err := hex.DecodeString(keyRecord.DeviceAuthKeyHex)
		if err != nil {
			return nil, nil, s.reject(ctx, event, newPresenceError(KindConfiguration,
				models.AuthRejectedServerConfig, "device_auth_key is malformed"))
		}

		event.MAC = hex.EncodeToString(report.MAC)
		if !VerifyPacketMAC(deviceKey, report) {
			return nil, nil, s.reject(ctx, event, newPresenceError(KindAuthentication,
				models.AuthRejectedMAC, "Invalid MAC for registered device"))
		}

		if s.cfg.LocalBeaconNonceEnabled {
			nonce := LocalBeaconNonce(receiverSecret, report.TimeSlot)
			expected := ExpectedTokenPrefix(deviceKey, report.TimeSlot, nonce)
			if !utils.ConstantTimeEqual(expected, report.TokenPrefix) {
				base = base.With(models.FlagLocalBeaconNonceMismatch)
			}
		}
	}

	history, err := s.events.RecentAccepted(ctx, report.OrgID, event.DeviceID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load presence history: %w", err)
	}

	decision := EvaluateFusion(history, FusionInput{
		OrgID:      report.OrgID,
		DeviceID:   event.DeviceID,
		ReceiverID: report.ReceiverID,
		Timestamp:  report.Timestamp,
		TimeSlot:   report.TimeSlot,
	}, s.cfg.Fusion, base)
	event.SuspiciousDuplicate = decision.SuspiciousDuplicate
	event.SuspiciousFlags = decision.Flags
	if decision.Reject != nil {
		return nil, nil, s.reject(ctx, event, decision.Reject)
	}

	link, err := s.links.FindActive(ctx, report.OrgID, event.DeviceID)
	if errors.Is(err, repositories.ErrNotFound) {
		link = nil
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve link: %w", err)
	}

	if link == nil && s.cfg.AnonMode == config.AnonBlock {
		return nil, nil, s.reject(ctx, event, newPresenceError(KindPolicy,
			models.AuthRejectedAnonymousBlocked, "Anonymous devices are blocked by policy"))
	}

	result := &PresenceResult{
		EventID:             event.ID,
		DeviceID:            event.DeviceID,
		SuspiciousDuplicate: decision.SuspiciousDuplicate,
		SuspiciousFlags:     decision.Flags,
	}

	var payload any
	if link != nil {
		result.Linked = true
		result.LinkID = link.ID
		result.UserRef = link.UserRef
		event.LinkID = link.ID
		event.UserRef = link.UserRef
		event.Anonymous = false

		payload = &PresenceCheckInPayload{
			Type:       models.WebhookPresenceCheckIn,
			EventID:    event.ID,
			OrgID:      report.OrgID,
			DeviceID:   event.DeviceID,
			LinkID:     link.ID,
			UserRef:    link.UserRef,
			ReceiverID: report.ReceiverID,
			Timestamp:  report.Timestamp,
			Suspicious: decision.Suspicious(),
		}
	} else {
		sessionID, err := s.upsertSession(ctx, report.OrgID, event.DeviceID, report.ReceiverID, time.Unix(report.Timestamp, 0).UTC())
		if err != nil {
			return nil, nil, err
		}
		result.PresenceSessionID = sessionID
		event.PresenceSessionID = sessionID
		event.Anonymous = true
		if s.cfg.AnonMode == config.AnonWarn {
			event.Policy = string(config.AnonWarn)
			s.logger.Warn("anonymous presence accepted under warn policy",
				zap.String("org_id", report.OrgID),
				logging.Redacted("device_id", event.DeviceID),
			)
		}

		payload = &PresenceUnknownPayload{
			Type:              models.WebhookPresenceUnknown,
			EventID:           event.ID,
			OrgID:             report.OrgID,
			DeviceID:          event.DeviceID,
			PresenceSessionID: sessionID,
			ReceiverID:        report.ReceiverID,
			Timestamp:         report.Timestamp,
		}
	}

	event.AuthResult = models.AuthAccepted
	if err := s.events.Append(ctx, event); err != nil {
		return nil, nil, fmt.Errorf("failed to record presence event: %w", err)
	}
	return result, payload, nil
}

// upsertSession extends the device's open session, or opens a new one when
// there is none or it has been idle longer than the session timeout.
func (s *PresenceService) upsertSession(ctx context.Context, orgID, deviceID, receiverID string, at time.Time) (string, error) {
	open, err := s.sessions.FindOpen(ctx, orgID, deviceID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
	case err != nil:
		return "", fmt.Errorf("failed to find presence session: %w", err)
	case at.Sub(open.LastSeenAt) > s.cfg.SessionTimeout:
		closedAt := open.LastSeenAt.Add(s.cfg.SessionTimeout)
		if err := s.sessions.Close(ctx, open.ID, closedAt); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return "", fmt.Errorf("failed to close idle presence session: %w", err)
		}
		s.logger.Debug("presence session timed out", zap.String("presence_session_id", open.ID))
	default:
		lastSeen := open.LastSeenAt
		if at.After(lastSeen) {
			lastSeen = at
		}
		if err := s.sessions.Touch(ctx, open.ID, receiverID, lastSeen); err != nil {
			return "", fmt.Errorf("failed to touch presence session: %w", err)
		}
		return open.ID, nil
	}

	session := &models.PresenceSession{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		DeviceID:    deviceID,
		ReceiverID:  receiverID,
		FirstSeenAt: at,
		LastSeenAt:  at,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create presence session: %w", err)
	}
	return session.ID, nil
}

// reject records a refused report in the event log and returns perr.
// A failed write is logged, never surfaced in place of the rejection.
func (s *PresenceService) reject(ctx context.Context, event *models.PresenceEvent, perr *PresenceError) error {
	event.AuthResult = perr.Reason
	event.Reason = perr.Message

	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Error("failed to record rejected presence event", zap.String("event_id", event.ID), zap.Error(err))
	}

	s.metrics.observeReport(string(perr.Reason), nil)
	s.logger.Info("presence rejected",
		zap.String("event_id", event.ID),
		zap.String("org_id", event.OrgID),
		zap.String("receiver_id", event.ReceiverID),
		zap.String("auth_result", string(perr.Reason)),
		zap.String("reason", perr.Message),
		logging.Redacted("signature", event.Signature),
	)
	return perr
}

func (s *PresenceService) newEvent(r *models.PresenceReport) *models.PresenceEvent {
	prefix := hex.EncodeToString(r.TokenPrefix)
	return &models.PresenceEvent{
		ID:          uuid.NewString(),
		OrgID:       r.OrgID,
		ReceiverID:  r.ReceiverID,
		Timestamp:   r.Timestamp,
		TimeSlot:    r.TimeSlot,
		Version:     r.Version,
		Flags:       r.Flags,
		TokenPrefix: prefix,
		TokenHash:   TokenHash(r.OrgID, r.ReceiverID, prefix, r.TimeSlot),
		Signature:   hex.EncodeToString(r.Signature),
		Anonymous:   true,
	}
}

// Stats reports event and open-session counts for the debug endpoint.
func (s *PresenceService) Stats(ctx context.Context) (events, openSessions int64, err error) {
	if events, err = s.events.Count(ctx); err != nil {
		return 0, 0, err
	}
	if openSessions, err = s.sessions.CountOpen(ctx); err != nil {
		return 0, 0, err
	}
	return events, openSessions, nil
}

// TokenHash is the replay key stored with every event:
// SHA-256 of "org:receiver:prefix:slot" with the prefix in lower-case hex.
func TokenHash(orgID, receiverID, tokenPrefixHex string, timeSlot uint32) string {
	key := orgID + ":" + receiverID + ":" + strings.ToLower(tokenPrefixHex) + ":" + strconv.FormatUint(uint64(timeSlot), 10)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func payloadType(payload any) models.WebhookEventType {
	switch p := payload.(type) {
	case *PresenceCheckInPayload:
		return p.Type
	case *PresenceUnknownPayload:
		return p.Type
	}
	return ""
}

