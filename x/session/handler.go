package session

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
)

// Hasher narrows account.Service down to the one method Refresh needs to
// turn a cryptographically verified signer DID into the hash Service.Refresh
// binds a refresh token against — the same narrowest-interface pattern used
// throughout (mailbox.Publisher, didcomm.KeyResolver).
type Hasher interface {
	Hash(didOrHash string) string
}

// Handler exposes the session endpoints of spec §6: /authenticate and
// /authentication/refresh. Both rounds of /authenticate share one route;
// which round is in play is determined by whether the request carries a
// session id.
type Handler struct {
	service     Service
	didcomm     didcomm.Service
	accounts    Hasher
	mediatorDID string
}

// NewHandler creates the session HTTP handler. didcomm and accounts back
// Refresh's envelope unpack/pack (spec §4.4 "refresh responses are also
// required to be signed and encrypted").
func NewHandler(service Service, didcommSvc didcomm.Service, accounts Hasher, mediatorDID string) *Handler {
	return &Handler{service: service, didcomm: didcommSvc, accounts: accounts, mediatorDID: mediatorDID}
}

type challengeRequestBody struct {
	DID string `json:"did"`
}

type challengeRequestResponse struct {
	SessionID string `json:"sessionId"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Authenticate handles Round 1 of spec §4.4: POST /authenticate with a
// bare { did } body starts a challenge. The actual Round 2 exchange
// (a signed+encrypted DIDComm envelope) is unwrapped upstream by the
// envelope processor before ChallengeResponse is invoked directly by the
// dispatcher, not through this REST handler — DIDComm messages carry their
// own routing, not HTTP verbs.
func (h *Handler) Authenticate(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Session.Handler.Authenticate")
	defer span.End()

	var body challengeRequestBody
	if err := c.Bind(&body); err != nil || body.DID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": CodeSessionInvalid})
	}

	sess, err := h.service.ChallengeRequest(ctx, h.accounts.Hash(body.DID), core.TransportREST)
	if err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": CodeSessionInvalid})
	}

	return c.JSON(http.StatusOK, challengeRequestResponse{
		SessionID: sess.ID,
		Nonce:     sess.Nonce,
		ExpiresAt: sess.ExpiresAt.Unix(),
	})
}

// TypeRefreshRequest/TypeRefreshResult are the refresh flow's own message
// types (spec §4.4 "Refresh"), kept in x/session rather than x/dispatch
// since refresh never enters the ACL-checked dispatch pipeline — it is a
// standalone endpoint reached before a session is Authorized. A challenge-
// response envelope (x/dispatch's TypeAuthChallengeResponse) posted here by
// mistake is rejected as ErrWrongURL: spec §4.4 calls this "a refresh
// request received on the old URL", the mistake of replaying the Round 2
// envelope shape against the refresh endpoint instead of /authenticate.
const (
	TypeRefreshRequest = "https://didcomm.org/mediator-auth/1.0/refresh-request"
	TypeRefreshResult  = "https://didcomm.org/mediator-auth/1.0/refresh-result"

	// typeChallengeResponse mirrors x/dispatch.TypeAuthChallengeResponse's
	// URI literally; x/session cannot import x/dispatch (x/dispatch already
	// imports x/session), so the one string this check needs is duplicated
	// here rather than restructured across a package boundary for it.
	typeChallengeResponse = "https://didcomm.org/mediator-auth/1.0/challenge-response"
)

type refreshRequestMsgBody struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResultBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Refresh handles spec §4.4 "Refresh": the client presents its refresh
// token inside a signed+encrypted DIDComm envelope (never bare JSON — spec
// §4.4 "refresh responses are also required to be signed and encrypted",
// and the request side carries the same requirement so the server can bind
// the token to a cryptographically proven signer, exactly as Round 2's
// ChallengeResponse binds its nonce reply). The response is packed and
// returned the same way, mirroring x/dispatch's deliver-style signed+
// encrypted reply.
func (h *Handler) Refresh(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Session.Handler.Refresh")
	defer span.End()

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": CodeSessionInvalid})
	}
	defer c.Request().Body.Close()

	env, err := h.didcomm.Unpack(ctx, raw)
	if err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": CodeSessionInvalid})
	}
	if env.Anonymous || !env.Signed || env.From == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": CodeAccessTokenFailure})
	}
	if env.Type == typeChallengeResponse {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ErrWrongURL.Error()})
	}

	var body refreshRequestMsgBody
	if err := json.Unmarshal(env.Body, &body); err != nil || body.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": CodeSessionInvalid})
	}

	senderHash := h.accounts.Hash(env.From)
	tokens, err := h.service.Refresh(ctx, body.RefreshToken, senderHash)
	if err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": CodeAccessTokenFailure})
	}

	plaintext, err := json.Marshal(struct {
		Type string            `json:"type"`
		Body refreshResultBody `json:"body"`
	}{
		Type: TypeRefreshResult,
		Body: refreshResultBody{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
		},
	})
	if err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": CodeSessionInvalid})
	}

	packed, err := h.didcomm.Pack(ctx, plaintext, h.mediatorDID, []string{env.From})
	if err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": CodeSessionInvalid})
	}

	return c.Blob(http.StatusOK, "application/didcomm-encrypted+json", packed)
}
