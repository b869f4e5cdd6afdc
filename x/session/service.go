package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/jwt"
)

var (
	// ErrSessionNotChallenged is returned when a challenge response arrives
	// for a session that is not in the Challenged state (already authorized,
	// expired, or never existed).
	ErrSessionNotChallenged = errors.New("session is not awaiting a challenge response")
	// ErrNonceMismatch is spec §4.4 Round 2 "nonce equality" failure.
	ErrNonceMismatch = errors.New("nonce does not match the issued challenge")
	// ErrFromMismatch is spec §4.4 Round 2 "from-field consistency" failure.
	ErrFromMismatch = errors.New("outer and inner from fields disagree with the claimed DID")
	// ErrStale is spec §4.4 "freshness header created_time" failure.
	ErrStale = errors.New("created_time outside the freshness window")
	// ErrWrongURL is spec §4.4 Refresh "received on the old URL" failure.
	ErrWrongURL = errors.New("refresh request received on the client's own DID URL")
)

// ChallengeResponse is the already-unwrapped content of the Round 2
// envelope (spec §4.4): the outer envelope's signing DID hash, the inner
// plaintext's from DID hash, the nonce it carried, and its freshness
// header. Unwrapping and cryptographic verification happen upstream in
// x/didcomm; this package only enforces the state-machine and binding
// rules on the result.
type ChallengeResponse struct {
	OuterFromHash string
	InnerFromHash string
	Nonce         string
	CreatedTime   time.Time
}

// Tokens is the Round 3 issuance result.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Service implements the four-state session machine of spec §4.4.
type Service interface {
	// ChallengeRequest starts Round 1: creates a Challenged session for
	// claimedDIDHash and returns it with a freshly generated nonce.
	ChallengeRequest(ctx context.Context, claimedDIDHash string, transport core.Transport) (core.Session, error)

	// ChallengeResponse validates Round 2 and, on success, performs Round 3
	// token issuance, transitioning the session to Authorized.
	ChallengeResponse(ctx context.Context, sessionID string, resp ChallengeResponse) (Tokens, error)

	// Refresh validates a refresh token and mints a new access token,
	// re-arming the session's idle TTL. senderHash is the cryptographically
	// verified signer of the (signed+encrypted) envelope the refresh token
	// arrived in; it must match the DID hash the token was minted for, the
	// same outer-to-claim binding Round 2 enforces for ChallengeResponse.
	Refresh(ctx context.Context, refreshToken, senderHash string) (Tokens, error)

	// Authorize validates an access token and returns the bound session,
	// used by the HTTP/WebSocket middleware on every request.
	Authorize(ctx context.Context, accessToken string) (core.Session, error)

	// Destroy ends a session (logout, revocation, or protocol failure).
	Destroy(ctx context.Context, sessionID string) error
}

type service struct {
	repository Repository
	tokens     jwt.Service
	config     core.Config
}

// NewService creates the session service.
func NewService(repository Repository, tokens jwt.Service, config core.Config) Service {
	return &service{repository: repository, tokens: tokens, config: config}
}

func (s *service) ChallengeRequest(ctx context.Context, claimedDIDHash string, transport core.Transport) (core.Session, error) {
	ctx, span := tracer.Start(ctx, "Session.Service.ChallengeRequest")
	defer span.End()

	nonce, err := generateNonce()
	if err != nil {
		span.RecordError(err)
		return core.Session{}, err
	}

	now := time.Now()
	sess := core.Session{
		ID:        xid.New().String(),
		DIDHash:   claimedDIDHash,
		State:     core.SessionStateChallenged,
		Nonce:     nonce,
		Transport: transport,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL.SessionIdle),
	}

	if err := s.repository.Create(ctx, sess); err != nil {
		span.RecordError(err)
		return core.Session{}, err
	}
	return sess, nil
}

func (s *service) ChallengeResponse(ctx context.Context, sessionID string, resp ChallengeResponse) (Tokens, error) {
	ctx, span := tracer.Start(ctx, "Session.Service.ChallengeResponse")
	defer span.End()

	sess, err := s.repository.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return Tokens{}, err
	}

	if sess.State != core.SessionStateChallenged {
		return Tokens{}, ErrSessionNotChallenged
	}

	if err := s.validateResponse(sess, resp); err != nil {
		span.RecordError(err)
		_ = s.repository.Delete(ctx, sessionID)
		return Tokens{}, err
	}

	tokens, err := s.issueTokens(ctx, &sess)
	if err != nil {
		span.RecordError(err)
		return Tokens{}, err
	}

	sess.State = core.SessionStateAuthorized
	sess.AccessToken = tokens.AccessToken
	sess.RefreshToken = tokens.RefreshToken
	sess.ExpiresAt = time.Now().Add(s.config.TTL.RefreshToken)

	if err := s.repository.Save(ctx, sess); err != nil {
		span.RecordError(err)
		return Tokens{}, err
	}
	return tokens, nil
}

// validateResponse enforces spec §4.4 Round 2: nonce equality, from-field
// consistency across outer envelope and inner plaintext and the claimed
// DID, and a freshness header within the admin-messages TTL window.
// Cryptographic integrity and DID-document key membership are verified
// upstream by x/didcomm before this is ever called.
func (s *service) validateResponse(sess core.Session, resp ChallengeResponse) error {
	if resp.Nonce != sess.Nonce {
		return ErrNonceMismatch
	}
	if resp.OuterFromHash != resp.InnerFromHash || resp.OuterFromHash != sess.DIDHash {
		return ErrFromMismatch
	}
	if time.Since(resp.CreatedTime) > s.config.TTL.AdminMessages || resp.CreatedTime.After(time.Now()) {
		return ErrStale
	}
	return nil
}

func (s *service) issueTokens(ctx context.Context, sess *core.Session) (Tokens, error) {
	access, err := s.tokens.Mint(ctx, sess.ID, sess.DIDHash, jwt.TokenTypeAccess, accessTTL(s.config))
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.tokens.Mint(ctx, sess.ID, sess.DIDHash, jwt.TokenTypeRefresh, s.config.TTL.RefreshToken)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// accessTTL enforces spec §4.4 Round 3's documented minimum ("minimum 10 s
// enforced") regardless of what a misconfigured TTLConfig says.
func accessTTL(cfg core.Config) time.Duration {
	if cfg.TTL.AccessToken < 10*time.Second {
		return 10 * time.Second
	}
	return cfg.TTL.AccessToken
}

func (s *service) Refresh(ctx context.Context, refreshToken, senderHash string) (Tokens, error) {
	ctx, span := tracer.Start(ctx, "Session.Service.Refresh")
	defer span.End()

	claims, err := s.tokens.Validate(ctx, refreshToken, jwt.TokenTypeRefresh)
	if err != nil {
		span.RecordError(err)
		return Tokens{}, err
	}
	if claims.DIDHash != senderHash {
		return Tokens{}, ErrSessionMismatch
	}

	sess, err := s.repository.Get(ctx, claims.SessionID)
	if err != nil {
		span.RecordError(err)
		return Tokens{}, err
	}
	if sess.DIDHash != claims.DIDHash {
		return Tokens{}, ErrSessionMismatch
	}

	access, err := s.tokens.Mint(ctx, sess.ID, sess.DIDHash, jwt.TokenTypeAccess, accessTTL(s.config))
	if err != nil {
		span.RecordError(err)
		return Tokens{}, err
	}

	sess.State = core.SessionStateAuthorized
	sess.AccessToken = access
	sess.ExpiresAt = time.Now().Add(s.config.TTL.RefreshToken)
	if err := s.repository.Save(ctx, sess); err != nil {
		span.RecordError(err)
		return Tokens{}, err
	}

	return Tokens{AccessToken: access, RefreshToken: refreshToken}, nil
}

// ErrSessionMismatch is returned when a token's bound DID hash or session
// state no longer agrees with the stored session record.
var ErrSessionMismatch = errors.New("session does not match token binding")

func (s *service) Authorize(ctx context.Context, accessToken string) (core.Session, error) {
	ctx, span := tracer.Start(ctx, "Session.Service.Authorize")
	defer span.End()

	claims, err := s.tokens.Validate(ctx, accessToken, jwt.TokenTypeAccess)
	if err != nil {
		span.RecordError(err)
		return core.Session{}, err
	}

	sess, err := s.repository.Get(ctx, claims.SessionID)
	if err != nil {
		span.RecordError(err)
		return core.Session{}, err
	}
	if sess.DIDHash != claims.DIDHash || sess.State != core.SessionStateAuthorized {
		return core.Session{}, ErrSessionMismatch
	}

	return sess, nil
}

func (s *service) Destroy(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "Session.Service.Destroy")
	defer span.End()

	return s.repository.Delete(ctx, sessionID)
}

func generateNonce() (string, error) {
	buf := make([]byte, NonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
