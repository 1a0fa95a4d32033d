package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/config"
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/prudhvinik1/hnnp-cloud/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testOrg  = "org-1"
	testSalt = "device-id-salt"
)

var receiverSecrets = map[string]string{
	"rcv-a": "receiver-secret-a",
	"rcv-b": "receiver-secret-b",
}

// presenceHarness wires the services over in-memory stores. The clock
// starts on a slot boundary.
type presenceHarness struct {
	clock      *fakeClock
	receivers  *repositories.MemoryReceiverRepository
	deviceKeys *repositories.MemoryDeviceKeyRepository
	links      *repositories.MemoryLinkRepository
	events     *repositories.MemoryPresenceEventRepository
	sessions   *repositories.MemorySessionRepository
	queue      *repositories.MemoryWebhookQueue
	dispatcher *WebhookDispatcher
	locker     *DeviceLocker
	presence   *PresenceService
	linker     *LinkService
}

func newPresenceHarness(t *testing.T, mutate func(*PresenceConfig)) *presenceHarness {
	t.Helper()
	h := &presenceHarness{
		clock:      &fakeClock{now: time.Unix(1_700_000_100, 0)},
		receivers:  repositories.NewMemoryReceiverRepository(),
		deviceKeys: repositories.NewMemoryDeviceKeyRepository(),
		links:      repositories.NewMemoryLinkRepository(),
		events:     repositories.NewMemoryPresenceEventRepository(),
		sessions:   repositories.NewMemorySessionRepository(),
		queue:      repositories.NewMemoryWebhookQueue(),
	}
	for id, secret := range receiverSecrets {
		h.receivers.Put(testOrg, id, secret)
	}

	cfg := PresenceConfig{
		DeviceIDSalt:   testSalt,
		Window:         TimeWindow{MaxSkewSeconds: 120, MaxDriftSlots: 1},
		Fusion:         FusionConfig{DuplicateSuppressSeconds: 5, ImpossibleTravelSeconds: 60},
		AnonMode:       config.AnonAllow,
		SessionTimeout: 5 * time.Minute,
		HistoryLimit:   50,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zap.NewNop()
	metrics := NewMetrics()
	dispatcher := NewWebhookDispatcher(h.queue, repositories.NewMemoryWebhookEndpointRepository(),
		DispatcherConfig{DefaultURL: "http://hooks.invalid/hnnp", MasterSecret: "master"}, logger, metrics).
		WithClock(h.clock.Now)
	locker := NewDeviceLocker(64)
	h.dispatcher = dispatcher
	h.locker = locker

	h.presence = NewPresenceService(h.receivers, h.deviceKeys, h.links, h.events, h.sessions,
		dispatcher, locker, cfg, logger, metrics).WithClock(h.clock.Now)
	h.linker = NewLinkService(h.links, h.sessions, h.deviceKeys, dispatcher, locker, "registration-key", logger).
		WithClock(h.clock.Now)
	return h
}

var testPrefix = bytes.Repeat([]byte{0x5a}, 16)

// report builds a correctly signed report at the given offset from the
// harness clock.
func (h *presenceHarness) report(receiverID string, offset time.Duration, prefix []byte) *models.PresenceReport {
	ts := h.clock.Now().Add(offset).Unix()
	r := &models.PresenceReport{
		OrgID:       testOrg,
		ReceiverID:  receiverID,
		Timestamp:   ts,
		TimeSlot:    uint32(ts / SlotSeconds),
		Version:     ProtocolVersion,
		TokenPrefix: prefix,
		MAC:         make([]byte, 8),
	}
	r.Signature = ReceiverSignature(receiverSecrets[receiverID], r.OrgID, r.ReceiverID, r.TimeSlot, r.TokenPrefix, r.Timestamp)
	return r
}

// register stores a device auth key for the device behind r and signs r's MAC.
func (h *presenceHarness) register(t *testing.T, r *models.PresenceReport, key []byte) {
	t.Helper()
	id := DeriveDeviceIdentity(testSalt, r.TimeSlot, r.TokenPrefix)
	require.NoError(t, h.deviceKeys.Register(context.Background(), &models.DeviceKeyRecord{
		OrgID: testOrg, DeviceID: id.DeviceID, DeviceAuthKeyHex: hex.EncodeToString(key),
	}))
	r.MAC = PacketMAC(key, r.Version, r.Flags, r.TimeSlot, r.TokenPrefix)
}

func (h *presenceHarness) queuedTypes(t *testing.T) []models.WebhookEventType {
	t.Helper()
	jobs, err := h.queue.ClaimDue(context.Background(), h.clock.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	var out []models.WebhookEventType
	for _, j := range jobs {
		out = append(out, j.EventType)
	}
	return out
}

func requirePresenceError(t *testing.T, err error, kind ErrorKind, msg string) *PresenceError {
	t.Helper()
	var perr *PresenceError
	require.True(t, errors.As(err, &perr), "expected *PresenceError, got %v", err)
	assert.Equal(t, kind, perr.Kind)
	assert.Equal(t, msg, perr.Message)
	return perr
}

func TestPresence_UnregisteredDeviceOpensSession(t *testing.T) {
	h := newPresenceHarness(t, nil)
	ctx := context.Background()

	// ACT
	res, err := h.presence.Submit(ctx, h.report("rcv-a", 0, testPrefix))

	// ASSERT
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.NotEmpty(t, res.PresenceSessionID)
	assert.NotEmpty(t, res.EventID)
	assert.Equal(t, DeriveDeviceIdentity(testSalt, SlotAt(h.clock.Now()), testPrefix).DeviceID, res.DeviceID)

	session, err := h.sessions.GetByID(ctx, res.PresenceSessionID)
	require.NoError(t, err)
	assert.True(t, session.Open())
	assert.Equal(t, h.clock.Now().Unix(), session.FirstSeenAt.Unix())

	events := h.events.All()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuthAccepted, events[0].AuthResult)
	assert.True(t, events[0].Anonymous)
	assert.Len(t, events[0].TokenHash, 64)

	assert.Equal(t, []models.WebhookEventType{models.WebhookPresenceUnknown}, h.queuedTypes(t))
}

func TestPresence_DuplicateInSameSlotRejected(t *testing.T) {
	h := newPresenceHarness(t, nil)
	ctx := context.Background()

	_, err := h.presence.Submit(ctx, h.report("rcv-a", 0, testPrefix))
	require.NoError(t, err)

	// ACT: same device, receiver and slot three seconds later
	_, err = h.presence.Submit(ctx, h.report("rcv-a", 3*time.Second, testPrefix))

	// ASSERT
	perr := requirePresenceError(t, err, KindReplay, "duplicate presence event in same time_slot")
	assert.Equal(t, 409, perr.Kind.HTTPStatus())

	events := h.events.All()
	require.Len(t, events, 2, "the rejection is logged")
	assert.Equal(t, models.AuthIgnoredDuplicate, events[1].AuthResult)
}

func TestPresence_DuplicateRejectionIsIdempotent(t *testing.T) {
	h := newPresenceHarness(t, nil)
	ctx := context.Background()
	_, err := h.presence.Submit(ctx, h.report("rcv-a", 0, testPrefix))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.presence.Submit(ctx, h.report("rcv-a", 2*time.Second, testPrefix))
		requirePresenceError(t, err, KindReplay, "duplicate presence event in same time_slot")
	}
}

func TestPresence_LateSameSlotReusesSession(t *testing.T) {
	h := newPresenceHarness(t, nil)
	ctx := context.Background()

	first, err := h.presence.Submit(ctx, h.report("rcv-a", 0, testPrefix))
	require.NoError(t, err)

	second, err := h.presence.Submit(ctx, h.report("rcv-a", 6*time.Second, testPrefix))

	require.NoError(t, err)
	assert.True(t, second.SuspiciousDuplicate)
	assert.True(t, second.SuspiciousFlags.Has(models.FlagDuplicateSameSlot))
	assert.Equal(t, first.PresenceSessionID, second.PresenceSessionID)

	session, err := h.sessions.GetByID(ctx, first.PresenceSessionID)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Unix()+6, session.LastSeenAt.Unix())
}

func TestPresence_ImpossibleMovementFlagged(t *testing.T) {
	h := newPresenceHarness(t, nil)
	ctx := context.Background()

	_, err := h.presence.Submit(ctx, h.report("rcv-a", 0, testPrefix))
	require.NoError(t, err)

	// ACT: seen at another receiver one second later
	res, err := h.presence.Submit(ctx, h.report("rcv-b", time.Second, testPrefix))

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, []string{"impossible_movement"}, res.SuspiciousFlags.Strings())
	assert.False(t, res.SuspiciousDuplicate)
}

func TestPresence_HardenedModeRejectsSuspicious(t *testing.T) {
	h := newPresenceHarness(t, func(c *PresenceConfig) { c.Fusion.HardenedMode = true })
	ctx := context.Background()

	_, err := h.presence.Submit(ctx, h.report("rcv-a", 0, testPrefix))
	require.NoError(t, err)

	_, err = h.presence.Submit(ctx, h.report("rcv-b", time.Second, testPrefix))

	perr := requirePresenceError(t, err, KindReplay, "suspicious presence event")
	assert.Equal(t, models.AuthRejectedSuspicious, perr.Reason)
	events := h.events.All()
	assert.True(t, events[len(events)-1].SuspiciousFlags.Has(models.FlagImpossibleMovement))
}

func TestPresence_LinkedDeviceChecksIn(t *testing.T) {
	h := newPresenceHarness(t, nil)
	ctx := context.Background()

	first, err := h.presence.Submit(ctx, h.report("rcv-a", 0, testPrefix))
	require.NoError(t, err)
	link, err := h.linker.CreateLink(ctx, CreateLinkRequest{
		OrgID: testOrg, PresenceSessionID: first.PresenceSessionID, UserRef: "user-42",
	})
	require.NoError(t, err)
	h.queuedTypes(t) // drain presence.unknown and link.created

	// ACT
	res, err := h.presence.Submit(ctx, h.report("rcv-a", 6*time.Second, testPrefix))

	// ASSERT
	require.NoError(t, err)
	assert.True(t, res.Linked)
	assert.Equal(t, link.ID, res.LinkID)
	assert.Equal(t, "user-42", res.UserRef)
	assert.Empty(t, res.PresenceSessionID)
	open, err := h.sessions.CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, open, "linked check-ins do not open presence sessions")

	jobs, err := h.queue.ClaimDue(ctx, h.clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.WebhookPresenceCheckIn, jobs[0].EventType)

	var payload PresenceCheckInPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, link.ID, payload.LinkID)
	assert.Equal(t, "user-42", payload.UserRef)
	assert.True(t, payload.Suspicious, "late same-slot report carries a flag")

	events := h.events.All()
	assert.False(t, events[len(events)-1].Anonymous)
}

func TestPresence_AuthenticationFailures(t *testing.T) {
	t.Run("unknown receiver", func(t *testing.T) {
		h := newPresenceHarness(t, nil)
		r := h.report("rcv-a", 0, testPrefix)
		r.ReceiverID = "rcv-unknown"

		_, err := h.presence.Submit(context.Background(), r)

		perr := requirePresenceError(t, err, KindAuthentication, "Unknown receiver or secret not configured")
		assert.Equal(t, models.AuthRejectedReceiverSecret, perr.Reason)
	})

	t.Run("bad signature", func(t *testing.T) {
		h := newPresenceHarness(t, nil)
		r := h.report("rcv-a", 0, testPrefix)
		r.Signature[0] ^= 0xff

		_, err := h.presence.Submit(context.Background(), r)

		requirePresenceError(t, err, KindAuthentication, "Invalid receiver signature")
		events := h.events.All()
		require.Len(t, events, 1)
		assert.Equal(t, models.AuthRejectedSignature, events[0].AuthResult)
		assert.Empty(t, events[0].DeviceID, "no identity is derived for unauthenticated reports")
	})

	t.Run("bad MAC for registered device", func(t *testing.T) {
		h := newPresenceHarness(t, nil)
		r := h.report("rcv-a", 0, testPrefix)
		h.register(t, r, testDeviceAuthKey("device-secret"))
		r.MAC[0] ^= 0xff

		_, err := h.presence.Submit(context.Background(), r)

		perr := requirePresenceError(t, err, KindAuthentication, "Invalid MAC for registered device")
		assert.Equal(t, models.AuthRejectedMAC, perr.Reason)
	})

	t.Run("good MAC for registered device", func(t *testing.T) {
		h := newPresenceHarness(t, nil)
		r := h.report("rcv-a", 0, testPrefix)
		h.register(t, r, testDeviceAuthKey("device-secret"))

		res, err := h.presence.Submit(context.Background(), r)

		require.NoError(t, err)
		assert.True(t, res.SuspiciousFlags.Empty())
	})
}

func TestPresence_MalformedAndConfiguration(t *testing.T) {
	t.Run("unsupported version", func(t *testing.T) {
		h := newPresenceHarness(t, nil)
		r := h.report("rcv-a", 0, testPrefix)
		r.Version = 1

		_, err := h.presence.Submit(context.Background(), r)

		requirePresenceError(t, err, KindMalformed, "Unsupported version; expected 0x02")
		assert.Empty(t, h.events.All())
	})

	t.Run("stale slot", func(t *testing.T) {
		h := newPresenceHarness(t, nil)
		r := h.report("rcv-a", 0, testPrefix)
		r.TimeSlot -= 3
		r.Signature = ReceiverSignature(receiverSecrets["rcv-a"], r.OrgID, r.ReceiverID, r.TimeSlot, r.TokenPrefix, r.Timestamp)

		_, err := h.presence.Submit(context.Background(), r)

		requirePresenceError(t, err, KindTemporal, "time_slot outside allowed drift window")
	})

	t.Run("missing salt", func(t *testing.T) {
		h := newPresenceHarness(t, func(c *PresenceConfig) { c.DeviceIDSalt = "" })

		_, err := h.presence.Submit(context.Background(), h.report("rcv-a", 0, testPrefix))

		perr := requirePresenceError(t, err, KindConfiguration, "device_id_salt not configured")
		assert.Equal(t, 500, perr.Kind.HTTPStatus())
	})
}

func TestPresence_LocalBeaconNonce(t *testing.T) {
	key := testDeviceAuthKey("device-secret")

	t.Run("plain prefix is flagged", func(t *testing.T) {
		h := newPresenceHarness(t, func(c *PresenceConfig) { c.LocalBeaconNonceEnabled = true })
		slot := SlotAt(h.clock.Now())
		r := h.report("rcv-a", 0, DeviceTokenPrefix(key, slot))
		h.register(t, r, key)

		res, err := h.presence.Submit(context.Background(), r)

		require.NoError(t, err)
		assert.True(t, res.SuspiciousFlags.Has(models.FlagLocalBeaconNonceMismatch))
	})

	t.Run("nonce-bound prefix passes", func(t *testing.T) {
		h := newPresenceHarness(t, func(c *PresenceConfig) { c.LocalBeaconNonceEnabled = true })
		slot := SlotAt(h.clock.Now())
		nonce := LocalBeaconNonce(receiverSecrets["rcv-a"], slot)
		r := h.report("rcv-a", 0, ExpectedTokenPrefix(key, slot, nonce))
		h.register(t, r, key)

		res, err := h.presence.Submit(context.Background(), r)

		require.NoError(t, err)
		assert.True(t, res.SuspiciousFlags.Empty())
	})

	t.Run("hardened mode rejects mismatch", func(t *testing.T) {
		h := newPresenceHarness(t, func(c *PresenceConfig) {
			c.LocalBeaconNonceEnabled = true
			c.Fusion.HardenedMode = true
		})
		r := h.report("rcv-a", 0, DeviceTokenPrefix(key, SlotAt(h.clock.Now())))
		h.register(t, r, key)

		_, err := h.presence.Submit(context.Background(), r)

		requirePresenceError(t, err, KindReplay, "suspicious presence event")
	})
}

func TestPresence_AnonymousPolicy(t *testing.T) {
	t.Run("block", func(t *testing.T) {
		h := newPresenceHarness(t, func(c *PresenceConfig) { c.AnonMode = config.AnonBlock })

		_, err := h.presence.Submit(context.Background(), h.report("rcv-a", 0, testPrefix))

		perr := requirePresenceError(t, err, KindPolicy, "Anonymous devices are blocked by policy")
		assert.Equal(t, 403, perr.Kind.HTTPStatus())
		assert.Empty(t, h.queuedTypes(t))
	})

	t.Run("warn", func(t *testing.T) {
		h := newPresenceHarness(t, func(c *PresenceConfig) { c.AnonMode = config.AnonWarn })

		_, err := h.presence.Submit(context.Background(), h.report("rcv-a", 0, testPrefix))

		require.NoError(t, err)
		events := h.events.All()
		assert.Equal(t, "warn", events[0].Policy)
	})
}

func TestPresence_SessionIdleTimeout(t *testing.T) {
	h := newPresenceHarness(t, nil)
	ctx := context.Background()
	start := h.clock.Now()

	first, err := h.presence.upsertSession(ctx, testOrg, "dev-1", "rcv-a", start)
	require.NoError(t, err)
	same, err := h.presence.upsertSession(ctx, testOrg, "dev-1", "rcv-a", start.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first, same)

	// ACT: idle for longer than the timeout
	next, err := h.presence.upsertSession(ctx, testOrg, "dev-1", "rcv-b", start.Add(10*time.Minute))

	// ASSERT
	require.NoError(t, err)
	assert.NotEqual(t, first, next)

	old, err := h.sessions.GetByID(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, old.ClosedAt)
	assert.Equal(t, start.Add(9*time.Minute), *old.ClosedAt, "closed at last_seen + timeout")
}

func TestPresence_ConcurrentIdenticalReports(t *testing.T) {
	h := newPresenceHarness(t, nil)
	report := h.report("rcv-a", 0, testPrefix)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		replayed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := *report
			_, err := h.presence.Submit(context.Background(), &r)

			mu.Lock()
			defer mu.Unlock()
			var perr *PresenceError
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &perr) && perr.Kind == KindReplay:
				replayed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, workers-1, replayed)
}

func TestTokenHash(t *testing.T) {
	a := TokenHash("org", "rcv", "AABB", 7)
	b := TokenHash("org", "rcv", "aabb", 7)

	assert.Equal(t, a, b, "prefix case does not matter")
	assert.NotEqual(t, a, TokenHash("org", "rcv", "aabb", 8))
	assert.Len(t, a, 64)
}
