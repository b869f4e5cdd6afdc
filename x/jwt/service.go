package jwt

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrInvalidToken covers signature failure, wrong type, missing binding
// fields, and any other reason a presented token is not usable — callers
// map it to the token.* problem codes of spec §7.
var ErrInvalidToken = errors.New("invalid or expired token")

// ErrRevoked is returned for a structurally valid token whose jti has been
// invalidated (logout, ACL revocation, refresh rotation).
var ErrRevoked = errors.New("token has been revoked")

// Service mints and validates the access/refresh tokens of spec §4.4 Round
// 3 and the refresh endpoint.
type Service interface {
	// Mint signs a new token bound to sessionID and didHash, valid for ttl.
	Mint(ctx context.Context, sessionID, didHash string, typ TokenType, ttl time.Duration) (string, error)

	// Validate verifies signature, expiry, expected type, and revocation,
	// returning the bound session id and DID hash.
	Validate(ctx context.Context, token string, expect TokenType) (Claims, error)

	// Revoke invalidates a token's jti so a subsequent Validate fails with
	// ErrRevoked even though the signature and expiry still check out.
	Revoke(ctx context.Context, token string) error
}

type service struct {
	repository Repository
	signingKey []byte
}

// NewService creates the token service. signingKey is the mediator's
// server-side HMAC secret (spec §4.4 "both signed with a server-side
// secret").
func NewService(repository Repository, signingKey string) Service {
	return &service{repository: repository, signingKey: []byte(signingKey)}
}

func (s *service) Mint(ctx context.Context, sessionID, didHash string, typ TokenType, ttl time.Duration) (string, error) {
	_, span := tracer.Start(ctx, "Jwt.Service.Mint")
	defer span.End()

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionID: sessionID,
		DIDHash:   didHash,
		Type:      typ,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return signed, nil
}

func (s *service) Validate(ctx context.Context, tokenString string, expect TokenType) (Claims, error) {
	ctx, span := tracer.Start(ctx, "Jwt.Service.Validate")
	defer span.End()

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.signingKey, nil
	})
	if err != nil || !token.Valid {
		span.RecordError(ErrInvalidToken)
		return Claims{}, ErrInvalidToken
	}

	if claims.Type != expect {
		return Claims{}, ErrInvalidToken
	}
	if claims.SessionID == "" || claims.DIDHash == "" {
		return Claims{}, ErrInvalidToken
	}

	revoked, err := s.repository.CheckJTI(ctx, claims.ID)
	if err != nil {
		span.RecordError(err)
		return Claims{}, err
	}
	if revoked {
		return Claims{}, ErrRevoked
	}

	return claims, nil
}

func (s *service) Revoke(ctx context.Context, tokenString string) error {
	ctx, span := tracer.Start(ctx, "Jwt.Service.Revoke")
	defer span.End()

	var claims Claims
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims)
	if err != nil {
		span.RecordError(err)
		return ErrInvalidToken
	}

	exp := time.Now().Add(24 * time.Hour)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}

	return s.repository.InvalidateJTI(ctx, claims.ID, exp)
}
