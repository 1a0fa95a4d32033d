package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/prudhvinik1/hnnp-cloud/internal/repositories"
	"go.uber.org/zap"
)

type CreateLinkRequest struct {
	OrgID             string
	PresenceSessionID string
	UserRef           string
	RegistrationBlob  string
}

type LinkService struct {
	links      repositories.LinkRepository
	sessions   repositories.PresenceSessionRepository
	deviceKeys repositories.DeviceKeyRepository
	webhooks   WebhookEnqueuer
	locker     *DeviceLocker
	signingKey string
	logger     *zap.Logger
	now        func() time.Time
}

func NewLinkService(
	links repositories.LinkRepository,
	sessions repositories.PresenceSessionRepository,
	deviceKeys repositories.DeviceKeyRepository,
	webhooks WebhookEnqueuer,
	locker *DeviceLocker,
	registrationSigningKey string,
	logger *zap.Logger,
) *LinkService {
	return &LinkService{
		links:      links,
		sessions:   sessions,
		deviceKeys: deviceKeys,
		webhooks:   webhooks,
		locker:     locker,
		signingKey: registrationSigningKey,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the service's time source.
func (s *LinkService) WithClock(now func() time.Time) *LinkService {
	s.now = now
	return s
}

// CreateLink binds the device behind an open presence session to userRef
// and then resolves the session. An optional registration blob registers
// the device's auth key in the same step. A failed link insert leaves the
// session open for a retry.
func (s *LinkService) CreateLink(ctx context.Context, req CreateLinkRequest) (*models.Link, error) {
	session, err := s.sessions.GetByID(ctx, req.PresenceSessionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence session: %w", err)
	}
	if session.OrgID != req.OrgID || !session.Open() {
		return nil, ErrSessionNotFound
	}
	if session.DeviceID == "" {
		return nil, ErrMissingDeviceContext
	}

	var claims *RegistrationClaims
	if req.RegistrationBlob != "" {
		if s.signingKey == "" {
			s.logger.Warn("registration_blob ignored: no signing key configured",
				zap.String("org_id", req.OrgID))
		} else {
			claims, err = ParseRegistrationBlob(req.RegistrationBlob, s.signingKey)
			if err != nil {
				return nil, err
			}
			if (claims.DeviceID != "" && claims.DeviceID != session.DeviceID) ||
				(claims.OrgID != "" && claims.OrgID != req.OrgID) {
				return nil, fmt.Errorf("%w: blob issued for another device", ErrInvalidRegistration)
			}
		}
	}

	unlock := s.locker.Lock(req.OrgID, session.DeviceID)
	defer unlock()

	now := s.now().UTC()
	if claims != nil {
		record := &models.DeviceKeyRecord{
			OrgID:            req.OrgID,
			DeviceID:         session.DeviceID,
			DeviceAuthKeyHex: claims.DeviceAuthKey,
			RegisteredAt:     now,
		}
		if err := s.deviceKeys.Register(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to register device key: %w", err)
		}
		s.logger.Info("device key registered", zap.String("org_id", req.OrgID))
	}

	link := &models.Link{
		ID:        uuid.NewString(),
		OrgID:     req.OrgID,
		DeviceID:  session.DeviceID,
		UserRef:   req.UserRef,
		CreatedAt: now,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	// The session is consumed only once the link exists. If it was consumed
	// in the meantime, the new link is withdrawn.
	if err := s.sessions.Resolve(ctx, session.ID, now); err != nil {
		if _, rerr := s.links.Revoke(ctx, link.OrgID, link.ID, now); rerr != nil {
			s.logger.Error("failed to withdraw link after session resolve failed",
				zap.String("link_id", link.ID), zap.Error(rerr))
		}
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve presence session: %w", err)
	}

	s.logger.Info("link created",
		zap.String("link_id", link.ID),
		zap.String("org_id", link.OrgID),
		zap.String("presence_session_id", session.ID),
	)

	if err := s.webhooks.Enqueue(ctx, link.OrgID, models.WebhookLinkCreated, &LinkCreatedPayload{
		Type:     models.WebhookLinkCreated,
		OrgID:    link.OrgID,
		LinkID:   link.ID,
		DeviceID: link.DeviceID,
		UserRef:  link.UserRef,
	}); err != nil {
		s.logger.Error("failed to enqueue link.created webhook", zap.String("link_id", link.ID), zap.Error(err))
	}
	return link, nil
}

func (s *LinkService) RevokeLink(ctx context.Context, orgID, linkID string) (*models.Link, error) {
	link, err := s.links.Revoke(ctx, orgID, linkID, s.now().UTC())
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke link: %w", err)
	}

	s.logger.Info("link revoked", zap.String("link_id", link.ID), zap.String("org_id", orgID))

	if err := s.webhooks.Enqueue(ctx, orgID, models.WebhookLinkRevoked, &LinkRevokedPayload{
		Type:   models.WebhookLinkRevoked,
		OrgID:  orgID,
		LinkID: link.ID,
	}); err != nil {
		s.logger.Error("failed to enqueue link.revoked webhook", zap.String("link_id", link.ID), zap.Error(err))
	}
	return link, nil
}
