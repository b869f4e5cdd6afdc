package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/problem"
	"github.com/affinidi/didcomm-mediator/x/session"
)

// handleChallengeResponse implements spec §4.4 Round 2: validate the
// challenge reply and, on success, perform Round 3 token issuance.
// senderHash is the cryptographically verified outer signer's hash,
// already computed upstream by x/envelope before Dispatch was called;
// body.From is the plaintext's own claim, cross-checked by x/session
// against senderHash and the session's original claimed DID so a reply
// signed by one key can't assert a different "from".
func (d *Dispatcher) handleChallengeResponse(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	var body challengeResponseMsgBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, problem.Wrap(problem.CodeMessageUnpack, "", "malformed challenge-response body")
	}

	tokens, err := d.sessions.ChallengeResponse(ctx, body.SessionID, session.ChallengeResponse{
		OuterFromHash: senderHash,
		InnerFromHash: d.accounts.Hash(body.From),
		Nonce:         body.Nonce,
		CreatedTime:   time.Unix(body.CreatedTime, 0),
	})
	if err != nil {
		return nil, challengeResponseProblem(err)
	}

	return &Response{
		Type: TypeAuthResult,
		Body: challengeResultBody{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
		},
		ThreadID: body.ID,
	}, nil
}

// challengeResponseProblem maps x/session's plain state-machine errors onto
// the DIDComm report-problem taxonomy (spec §7) so a failed Round 2 reaches
// the client as a problem report rather than an opaque internal error.
func challengeResponseProblem(err error) error {
	switch {
	case errors.Is(err, session.ErrNonceMismatch),
		errors.Is(err, session.ErrFromMismatch),
		errors.Is(err, session.ErrStale),
		errors.Is(err, session.ErrSessionNotChallenged):
		return problem.Wrap(problem.CodeSessionInvalid, "", err.Error())
	default:
		return err
	}
}
