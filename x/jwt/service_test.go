package jwt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeRepository struct {
	revoked map[string]time.Time
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{revoked: map[string]time.Time{}}
}

func (f *fakeRepository) CheckJTI(ctx context.Context, jti string) (bool, error) {
	_, ok := f.revoked[jti]
	return ok, nil
}

func (f *fakeRepository) InvalidateJTI(ctx context.Context, jti string, exp time.Time) error {
	f.revoked[jti] = exp
	return nil
}

func newTestService() (Service, *fakeRepository) {
	repo := newFakeRepository()
	return NewService(repo, "test-signing-secret"), repo
}

func TestMintAndValidateRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	token, err := svc.Mint(ctx, "session-1", "did-hash-1", TokenTypeAccess, time.Minute)
	assert.NoError(t, err)

	claims, err := svc.Validate(ctx, token, TokenTypeAccess)
	assert.NoError(t, err)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, "did-hash-1", claims.DIDHash)
}

func TestValidateRejectsWrongType(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	token, err := svc.Mint(ctx, "session-1", "did-hash-1", TokenTypeRefresh, time.Minute)
	assert.NoError(t, err)

	_, err = svc.Validate(ctx, token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	token, err := svc.Mint(ctx, "session-1", "did-hash-1", TokenTypeAccess, -time.Second)
	assert.NoError(t, err)

	_, err = svc.Validate(ctx, token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongSigningKey(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc1 := NewService(repo, "secret-one")
	svc2 := NewService(repo, "secret-two")

	token, err := svc1.Mint(ctx, "session-1", "did-hash-1", TokenTypeAccess, time.Minute)
	assert.NoError(t, err)

	_, err = svc2.Validate(ctx, token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeMakesTokenInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	token, err := svc.Mint(ctx, "session-1", "did-hash-1", TokenTypeAccess, time.Minute)
	assert.NoError(t, err)

	assert.NoError(t, svc.Revoke(ctx, token))

	_, err = svc.Validate(ctx, token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrRevoked)
}
