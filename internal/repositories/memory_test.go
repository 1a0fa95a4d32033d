package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLinkRepository_FindActiveAndRevoke(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, repo.Create(ctx, &models.Link{ID: "l1", OrgID: "org-1", DeviceID: "dev-1", UserRef: "alice", CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &models.Link{ID: "l2", OrgID: "org-1", DeviceID: "dev-1", UserRef: "bob", CreatedAt: base.Add(time.Minute)}))

	active, err := repo.FindActive(ctx, "org-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "l2", active.ID, "newest active link wins")

	// ACT
	revoked, err := repo.Revoke(ctx, "org-1", "l2", base.Add(2*time.Minute))

	// ASSERT
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)

	active, err = repo.FindActive(ctx, "org-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "l1", active.ID)

	_, err = repo.Revoke(ctx, "org-1", "l2", base)
	assert.ErrorIs(t, err, ErrNotFound, "already revoked")

	_, err = repo.Revoke(ctx, "org-2", "l1", base)
	assert.ErrorIs(t, err, ErrNotFound, "links are scoped per org")
}

func TestMemoryPresenceEventRepository_RecentAccepted(t *testing.T) {
	repo := NewMemoryPresenceEventRepository()
	ctx := context.Background()

	add := func(id string, ts int64, result models.AuthResult) {
		require.NoError(t, repo.Append(ctx, &models.PresenceEvent{
			ID: id, OrgID: "org-1", DeviceID: "dev-1", ReceiverID: "rcv-1",
			Timestamp: ts, AuthResult: result,
		}))
	}
	add("e1", 100, models.AuthAccepted)
	add("e2", 300, models.AuthAccepted)
	add("e3", 200, models.AuthAccepted)
	add("e4", 400, models.AuthIgnoredDuplicate)
	add("e5", 300, models.AuthAccepted)

	// ACT
	events, err := repo.RecentAccepted(ctx, "org-1", "dev-1", 3)

	// ASSERT
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e5", events[0].ID, "ties go to the later append")
	assert.Equal(t, "e2", events[1].ID)
	assert.Equal(t, "e3", events[2].ID)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count, "rejected events are stored too")
}

func TestMemorySessionRepository_Lifecycle(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	s := newTestSession("org-1", "dev-1", now)
	require.NoError(t, repo.Create(ctx, s))

	require.NoError(t, repo.Touch(ctx, s.ID, "rcv-9", now.Add(time.Minute)))
	open, err := repo.FindOpen(ctx, "org-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "rcv-9", open.ReceiverID)

	require.NoError(t, repo.Resolve(ctx, s.ID, now.Add(2*time.Minute)))

	_, err = repo.FindOpen(ctx, "org-1", "dev-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Close(ctx, s.ID, now), ErrNotFound)

	n, err := repo.CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryReceiverRepository(t *testing.T) {
	repo := NewMemoryReceiverRepository()
	repo.Put("org-1", "rcv-1", "secret")

	got, err := repo.GetSecret(context.Background(), "org-1", "rcv-1")
	require.NoError(t, err)
	assert.Equal(t, "secret", got)

	_, err = repo.GetSecret(context.Background(), "org-1", "rcv-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
