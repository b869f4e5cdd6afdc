package problem

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affinidi/didcomm-mediator/x/mailbox"
)

type fakeMailboxes struct {
	senderHash    string
	recipientHash string
	envelope      []byte
	ttl           time.Duration
}

func (f *fakeMailboxes) Put(ctx context.Context, senderHash, recipientHash string, envelope []byte, rawEphemeral json.RawMessage, ttl time.Duration) (mailbox.PutOutcome, error) {
	f.senderHash = senderHash
	f.recipientHash = recipientHash
	f.envelope = envelope
	f.ttl = ttl
	return mailbox.PutOutcome{}, nil
}

type fakeMediator struct{ hash string }

func (f fakeMediator) MediatorDIDHash() string { return f.hash }

func TestMailboxReporterDeliversPlaintextReportToOrigin(t *testing.T) {
	mailboxes := &fakeMailboxes{}
	reporter := NewMailboxReporter(mailboxes, fakeMediator{hash: "mediator-hash"}, time.Hour)

	err := reporter.ReportForwardFailure(context.Background(), "origin-hash", "next hop unreachable")
	require.NoError(t, err)

	assert.Equal(t, "mediator-hash", mailboxes.senderHash)
	assert.Equal(t, "origin-hash", mailboxes.recipientHash)
	assert.Equal(t, time.Hour, mailboxes.ttl)

	var body forwardFailureBody
	require.NoError(t, json.Unmarshal(mailboxes.envelope, &body))
	assert.Equal(t, CodeForwardingFailed, body.Code)
	assert.Equal(t, "next hop unreachable", body.Comment)
}
