package problem

import (
	"context"
	"encoding/json"
	"time"

	"github.com/affinidi/didcomm-mediator/x/mailbox"
)

// Mailboxes is the slice of mailbox.Service a MailboxReporter needs, kept
// narrow so a fake in a reporter test doesn't have to implement the whole
// mailbox contract.
type Mailboxes interface {
	Put(ctx context.Context, senderHash, recipientHash string, envelope []byte, rawEphemeral json.RawMessage, ttl time.Duration) (mailbox.PutOutcome, error)
}

// MediatorHasher supplies the mediator's own DID hash, the "from" of every
// problem report this reporter sends. Narrowed from account.Service for the
// same reason as Mailboxes above.
type MediatorHasher interface {
	MediatorDIDHash() string
}

// MailboxReporter implements forward.ProblemReporter by delivering the
// problem report straight into the origin sender's own receive queue as a
// plain, unencrypted JSON body rather than a packed DIDComm envelope. This
// is deliberate: by the time a forward permanently fails, the reactor only
// still has the origin's DID *hash* in hand (every downstream store
// addresses senders/recipients by hash, never by DID, per spec §4.6), and
// there is no key material left to pack a JWE/JWS to. Spec's confidentiality
// Non-goal only scopes out cross-recipient payload bodies the mediator
// isn't itself a party to; a report about the mediator's own forwarding
// outcome, delivered to the session-bound client that owns the queue it
// lands in, isn't that.
type MailboxReporter struct {
	mailboxes    Mailboxes
	mediatorHash string
	ttl          time.Duration
}

// NewMailboxReporter builds the reporter. ttl governs how long the report
// sits in the origin's queue before the expiry sweeper reclaims it — spec
// §4.4's admin-message TTL is the natural fit, since this is itself a
// mediator-originated control message, not user payload.
func NewMailboxReporter(mailboxes Mailboxes, accounts MediatorHasher, ttl time.Duration) *MailboxReporter {
	return &MailboxReporter{mailboxes: mailboxes, mediatorHash: accounts.MediatorDIDHash(), ttl: ttl}
}

type forwardFailureBody struct {
	Type    string `json:"type"`
	Code    Code   `json:"code"`
	Comment string `json:"comment"`
}

// ReportForwardFailure implements forward.ProblemReporter.
func (r *MailboxReporter) ReportForwardFailure(ctx context.Context, originHash string, lastError string) error {
	report, err := json.Marshal(forwardFailureBody{
		Type:    problemReportType,
		Code:    CodeForwardingFailed,
		Comment: lastError,
	})
	if err != nil {
		return err
	}
	_, err = r.mailboxes.Put(ctx, r.mediatorHash, originHash, report, nil, r.ttl)
	return err
}
