package oob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affinidi/didcomm-mediator/core"
)

type fakeRepository struct {
	invitations map[string]core.OOBInvitation
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{invitations: map[string]core.OOBInvitation{}}
}

func (f *fakeRepository) Create(ctx context.Context, inv core.OOBInvitation) error {
	f.invitations[inv.ID] = inv
	return nil
}

func (f *fakeRepository) Get(ctx context.Context, id string) (core.OOBInvitation, error) {
	inv, ok := f.invitations[id]
	if !ok {
		return core.OOBInvitation{}, core.NewErrorNotFound()
	}
	return inv, nil
}

func (f *fakeRepository) Delete(ctx context.Context, id string) error {
	delete(f.invitations, id)
	return nil
}

func newTestService() (Service, *fakeRepository) {
	repo := newFakeRepository()
	return NewService(repo, 7*24*time.Hour), repo
}

func TestCreateStoresInvitationOwnedByInviter(t *testing.T) {
	svc, repo := newTestService()

	inv, err := svc.Create(context.Background(), "inviter-hash", "invitation-blob")
	require.NoError(t, err)
	assert.Equal(t, "inviter-hash", inv.InviterHash)
	assert.Equal(t, "invitation-blob", inv.Invitation)
	assert.True(t, inv.ExpiresAt.After(time.Now()))

	stored, err := repo.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv, stored)
}

func TestGetReturnsNotFoundForUnknownID(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.NewErrorNotFound())
}

func TestDeleteByOwnerSucceeds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inv, err := svc.Create(ctx, "inviter-hash", "blob")
	require.NoError(t, err)

	err = svc.Delete(ctx, ActorOwner, "inviter-hash", inv.ID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, inv.ID)
	assert.ErrorIs(t, err, core.NewErrorNotFound())
}

func TestDeleteByNonOwnerIsDenied(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inv, err := svc.Create(ctx, "inviter-hash", "blob")
	require.NoError(t, err)

	err = svc.Delete(ctx, ActorOwner, "someone-else-hash", inv.ID)
	assert.ErrorIs(t, err, core.NewErrorPermissionDenied())

	stored, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv, stored)
}

func TestDeleteByAdminIgnoresOwnership(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inv, err := svc.Create(ctx, "inviter-hash", "blob")
	require.NoError(t, err)

	err = svc.Delete(ctx, ActorAdmin, "someone-else-hash", inv.ID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, inv.ID)
	assert.ErrorIs(t, err, core.NewErrorNotFound())
}
