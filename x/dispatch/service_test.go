package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/account"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/mailbox"
	"github.com/affinidi/didcomm-mediator/x/problem"
	"github.com/affinidi/didcomm-mediator/x/session"
)

type fakeAccountRepository struct {
	accounts map[string]core.Account
}

func newFakeAccountRepository() *fakeAccountRepository {
	return &fakeAccountRepository{accounts: map[string]core.Account{}}
}

func (f *fakeAccountRepository) Get(ctx context.Context, didHash string) (core.Account, error) {
	a, ok := f.accounts[didHash]
	if !ok {
		return core.Account{}, core.NewErrorNotFound()
	}
	return a, nil
}

func (f *fakeAccountRepository) Create(ctx context.Context, a core.Account) (core.Account, error) {
	f.accounts[a.DIDHash] = a
	return a, nil
}

func (f *fakeAccountRepository) Save(ctx context.Context, a core.Account) error {
	f.accounts[a.DIDHash] = a
	return nil
}

func (f *fakeAccountRepository) Remove(ctx context.Context, didHash string) error {
	delete(f.accounts, didHash)
	return nil
}

func (f *fakeAccountRepository) List(ctx context.Context, cursor string, limit int64) ([]core.Account, string, error) {
	var out []core.Account
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, "", nil
}

func (f *fakeAccountRepository) ListAdmins(ctx context.Context) ([]string, error) {
	var out []string
	for _, a := range f.accounts {
		if a.Type == core.AccountTypeAdmin || a.Type == core.AccountTypeRootAdmin {
			out = append(out, a.DIDHash)
		}
	}
	return out, nil
}

func (f *fakeAccountRepository) AddAccessListEntry(ctx context.Context, didHash, entry string, max int) (bool, error) {
	a := f.accounts[didHash]
	if len(a.AccessList) >= max {
		return true, nil
	}
	a.AccessList = append(a.AccessList, entry)
	f.accounts[didHash] = a
	return false, nil
}

func (f *fakeAccountRepository) RemoveAccessListEntry(ctx context.Context, didHash, entry string) error {
	a := f.accounts[didHash]
	kept := a.AccessList[:0]
	for _, e := range a.AccessList {
		if e != entry {
			kept = append(kept, e)
		}
	}
	a.AccessList = kept
	f.accounts[didHash] = a
	return nil
}

type fakeMailboxRepository struct {
	recv map[string][]core.Message
}

func newFakeMailboxRepository() *fakeMailboxRepository {
	return &fakeMailboxRepository{recv: map[string][]core.Message{}}
}

func (f *fakeMailboxRepository) Put(ctx context.Context, msg core.Message) (mailbox.PutOutcome, error) {
	f.recv[msg.RecipientHash] = append(f.recv[msg.RecipientHash], msg)
	return mailbox.PutOutcome{Status: core.PutResultStored}, nil
}

func (f *fakeMailboxRepository) List(ctx context.Context, didHash string, q mailbox.Queue, cursor string, limit int64) ([]core.Message, string, error) {
	msgs := f.recv[didHash]
	if int64(len(msgs)) > limit {
		msgs = msgs[:limit]
	}
	return msgs, "", nil
}

func (f *fakeMailboxRepository) Delete(ctx context.Context, didHash string, q mailbox.Queue, contentHash string) (bool, error) {
	msgs := f.recv[didHash]
	for i, m := range msgs {
		if m.ContentHash == contentHash {
			f.recv[didHash] = append(msgs[:i], msgs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMailboxRepository) Stats(ctx context.Context, didHash string, q mailbox.Queue) (core.QueueStats, error) {
	var bytes int64
	for _, m := range f.recv[didHash] {
		bytes += m.Size
	}
	return core.QueueStats{Count: int64(len(f.recv[didHash])), Bytes: bytes}, nil
}

func (f *fakeMailboxRepository) ExpireBefore(ctx context.Context, before time.Time, limit int64) ([]mailbox.ExpiredEntry, error) {
	return nil, nil
}

type fakePublisher struct{}

func (fakePublisher) Publish(ctx context.Context, didHash string, event core.Event) {}

type fakeDIDComm struct {
	packed []packedCall
}

type packedCall struct {
	senderDID     string
	recipientDIDs []string
	body          []byte
}

func (f *fakeDIDComm) Pack(ctx context.Context, body []byte, senderDID string, recipientDIDs []string) ([]byte, error) {
	f.packed = append(f.packed, packedCall{senderDID: senderDID, recipientDIDs: recipientDIDs, body: body})
	return body, nil
}

func (f *fakeDIDComm) Unpack(ctx context.Context, raw []byte) (*didcomm.Envelope, error) {
	return nil, nil
}

const testMediatorDID = "did:key:mediator"

// fakeSessionService is a direct stand-in for x/session.Service: only
// ChallengeResponse is exercised from this package, the rest panic if ever
// called so a test that reaches them fails loudly instead of silently.
type fakeSessionService struct {
	challengeResponseFunc func(ctx context.Context, sessionID string, resp session.ChallengeResponse) (session.Tokens, error)
}

func (f *fakeSessionService) ChallengeRequest(ctx context.Context, claimedDIDHash string, transport core.Transport) (core.Session, error) {
	panic("not used by dispatch tests")
}

func (f *fakeSessionService) ChallengeResponse(ctx context.Context, sessionID string, resp session.ChallengeResponse) (session.Tokens, error) {
	return f.challengeResponseFunc(ctx, sessionID, resp)
}

func (f *fakeSessionService) Refresh(ctx context.Context, refreshToken, senderHash string) (session.Tokens, error) {
	panic("not used by dispatch tests")
}

func (f *fakeSessionService) Authorize(ctx context.Context, accessToken string) (core.Session, error) {
	panic("not used by dispatch tests")
}

func (f *fakeSessionService) Destroy(ctx context.Context, sessionID string) error {
	panic("not used by dispatch tests")
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeAccountRepository, *fakeMailboxRepository, *fakeDIDComm, account.Service) {
	d, accountRepo, mailboxRepo, fakeComm, accounts, _ := newTestDispatcherWithSessions(t, nil)
	return d, accountRepo, mailboxRepo, fakeComm, accounts
}

func newTestDispatcherWithSessions(t *testing.T, sessions session.Service) (*Dispatcher, *fakeAccountRepository, *fakeMailboxRepository, *fakeDIDComm, account.Service, core.Config) {
	cfg := core.Defaults()
	accountRepo := newFakeAccountRepository()
	accounts := account.NewService(accountRepo, cfg, testMediatorDID)

	mediatorHash := accounts.Hash(testMediatorDID)
	_, err := accounts.Create(context.Background(), mediatorHash, 0, core.AccountTypeMediator)
	require.NoError(t, err)

	mailboxRepo := newFakeMailboxRepository()
	mailboxes := mailbox.NewService(mailboxRepo, accounts, fakePublisher{}, cfg)

	fakeComm := &fakeDIDComm{}

	d := NewDispatcher(fakeComm, accounts, mailboxes, nil, nil, sessions, cfg, testMediatorDID)
	return d, accountRepo, mailboxRepo, fakeComm, accounts, cfg
}

func TestDispatchTrustPingSendsPongWhenResponseRequested(t *testing.T) {
	d, _, mailboxRepo, fakeComm, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:alice"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{"id": "ping-1", "response_requested": true})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{
		From: senderDID,
		Type: TypeTrustPing,
		Body: body,
	})
	require.NoError(t, err)

	require.Len(t, fakeComm.packed, 1)
	assert.Equal(t, testMediatorDID, fakeComm.packed[0].senderDID)
	assert.Equal(t, []string{senderDID}, fakeComm.packed[0].recipientDIDs)
	assert.Len(t, mailboxRepo.recv[senderHash], 1)
}

func TestDispatchTrustPingAbsorbsWhenNoResponseRequested(t *testing.T) {
	d, _, mailboxRepo, fakeComm, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:alice"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{"id": "ping-1", "response_requested": false})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypeTrustPing, Body: body})
	require.NoError(t, err)

	assert.Empty(t, fakeComm.packed)
	assert.Empty(t, mailboxRepo.recv[senderHash])
}

func TestDispatchDiscoverFeaturesMatchesExactProtocol(t *testing.T) {
	d, _, _, fakeComm, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:alice"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{
		"id": "query-1",
		"queries": []map[string]string{
			{"feature_type": "protocol", "match": TypeTrustPing},
			{"feature_type": "protocol", "match": "https://didcomm.org/no-such-protocol/1.0"},
			{"feature_type": "header", "match": "return_route"},
		},
	})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypeDiscoverFeaturesQuery, Body: body})
	require.NoError(t, err)

	require.Len(t, fakeComm.packed, 1)
	var wire struct {
		Body discoverFeaturesDiscloseBody `json:"body"`
		ThID string                       `json:"thid"`
	}
	require.NoError(t, json.Unmarshal(fakeComm.packed[0].body, &wire))
	assert.Equal(t, "query-1", wire.ThID)
	assert.Contains(t, wire.Body.Disclosures, disclosureEntry{FeatureType: featureProtocol, ID: TypeTrustPing})
	assert.Contains(t, wire.Body.Disclosures, disclosureEntry{FeatureType: featureHeader, ID: "return_route"})
	for _, disc := range wire.Body.Disclosures {
		assert.NotEqual(t, "https://didcomm.org/no-such-protocol/1.0", disc.ID)
	}
}

func TestDispatchDiscoverFeaturesPrefixWildcard(t *testing.T) {
	d, _, _, fakeComm, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:alice"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{
		"id": "query-2",
		"queries": []map[string]string{
			{"feature_type": "protocol", "match": "https://didcomm.org/messagepickup/3.0/*"},
		},
	})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypeDiscoverFeaturesQuery, Body: body})
	require.NoError(t, err)

	require.Len(t, fakeComm.packed, 1)
	var wire struct {
		Body discoverFeaturesDiscloseBody `json:"body"`
	}
	require.NoError(t, json.Unmarshal(fakeComm.packed[0].body, &wire))
	assert.Contains(t, wire.Body.Disclosures, disclosureEntry{FeatureType: featureProtocol, ID: TypePickupStatusRequest})
	assert.Contains(t, wire.Body.Disclosures, disclosureEntry{FeatureType: featureProtocol, ID: TypePickupDeliveryRequest})
}

func TestDispatchDiscoverFeaturesInvalidWildcardYieldsNoDisclosures(t *testing.T) {
	d, _, _, fakeComm, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:alice"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{
		"id": "query-3",
		"queries": []map[string]string{
			{"feature_type": "protocol", "match": "https://didcomm.org/*/3.0/ping"},
		},
	})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypeDiscoverFeaturesQuery, Body: body})
	require.NoError(t, err)

	require.Len(t, fakeComm.packed, 1)
	var wire struct {
		Body discoverFeaturesDiscloseBody `json:"body"`
	}
	require.NoError(t, json.Unmarshal(fakeComm.packed[0].body, &wire))
	assert.Empty(t, wire.Body.Disclosures)
}

func returnRouteAll() map[string]json.RawMessage {
	return map[string]json.RawMessage{"return_route": json.RawMessage(`"all"`)}
}

func TestDispatchPickupStatusRejectsMissingReturnRoute(t *testing.T) {
	d, _, _, _, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:bob"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypePickupStatusRequest, Body: body})
	require.Error(t, err)
	var perr problem.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, problem.CodeReturnRouteRequired, perr.Code)
}

func TestDispatchPickupStatusRejectsWrongReturnRoute(t *testing.T) {
	d, _, _, _, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:bob"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{})
	msg := didcomm.Envelope{
		From: senderDID,
		Type: TypePickupStatusRequest,
		Body: body,
		Extra: map[string]json.RawMessage{"return_route": json.RawMessage(`"thread"`)},
	}
	err = d.Dispatch(ctx, senderHash, msg)
	require.Error(t, err)
	var perr problem.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, problem.CodeReturnRouteRequired, perr.Code)
}

func TestDispatchPickupStatusReflectsQueueCount(t *testing.T) {
	d, _, mailboxRepo, fakeComm, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:bob"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	mailboxRepo.recv[senderHash] = []core.Message{
		{ContentHash: "h1", RecipientHash: senderHash, Size: 10},
		{ContentHash: "h2", RecipientHash: senderHash, Size: 20},
	}

	body, _ := json.Marshal(map[string]interface{}{})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypePickupStatusRequest, Body: body, Extra: returnRouteAll()})
	require.NoError(t, err)

	require.Len(t, fakeComm.packed, 1)
	var wire struct {
		Body pickupStatusBody `json:"body"`
	}
	require.NoError(t, json.Unmarshal(fakeComm.packed[0].body, &wire))
	assert.EqualValues(t, 2, wire.Body.MessageCount)
	assert.EqualValues(t, 30, wire.Body.TotalBytes)
}

func TestDispatchMessagesReceivedDeletesAndReturnsFreshStatus(t *testing.T) {
	d, _, mailboxRepo, fakeComm, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:bob"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	mailboxRepo.recv[senderHash] = []core.Message{{ContentHash: "h1", RecipientHash: senderHash}}

	body, _ := json.Marshal(map[string]interface{}{"message_id_list": []string{"h1"}})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypePickupMessagesReceived, Body: body, Extra: returnRouteAll()})
	require.NoError(t, err)

	// h1 is gone; the one entry left is the status reply itself.
	require.Len(t, mailboxRepo.recv[senderHash], 1)
	assert.NotEqual(t, "h1", mailboxRepo.recv[senderHash][0].ContentHash)
	require.Len(t, fakeComm.packed, 1)
	var wire struct {
		Body pickupStatusBody `json:"body"`
	}
	require.NoError(t, json.Unmarshal(fakeComm.packed[0].body, &wire))
	assert.EqualValues(t, 0, wire.Body.MessageCount)
}

func TestDispatchACLManagementDeniesNonAdminTargetingOthers(t *testing.T) {
	d, accountRepo, _, _, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:alice"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	otherHash := accounts.Hash("did:key:bob")
	accountRepo.accounts[otherHash] = core.Account{DIDHash: otherHash, Type: core.AccountTypeStandard}

	body, _ := json.Marshal(aclManagementBody{Action: "get", Target: "did:key:bob"})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: "https://didcomm.org/mediator-acl/1.0/acl-management", Body: body})
	assert.Error(t, err)
}

func TestDispatchAdminManagementRequiresRootAdmin(t *testing.T) {
	d, _, _, _, accounts := newTestDispatcher(t)
	ctx := context.Background()

	senderDID := "did:key:admin"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeAdmin)
	require.NoError(t, err)

	body, _ := json.Marshal(adminManagementBody{Action: "promote", Target: "did:key:alice"})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: AdminManagementType, Body: body})
	assert.Error(t, err)
}

func TestDispatchChallengeResponseIssuesTokens(t *testing.T) {
	sessions := &fakeSessionService{
		challengeResponseFunc: func(ctx context.Context, sessionID string, resp session.ChallengeResponse) (session.Tokens, error) {
			assert.Equal(t, "sess-1", sessionID)
			assert.Equal(t, "nonce-xyz", resp.Nonce)
			assert.Equal(t, resp.OuterFromHash, resp.InnerFromHash)
			return session.Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
		},
	}
	d, _, mailboxRepo, fakeComm, accounts, _ := newTestDispatcherWithSessions(t, sessions)
	ctx := context.Background()

	senderDID := "did:key:alice"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(challengeResponseMsgBody{
		ID:          "challenge-1",
		From:        senderDID,
		CreatedTime: time.Now().Unix(),
		SessionID:   "sess-1",
		Nonce:       "nonce-xyz",
	})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypeAuthChallengeResponse, Body: body})
	require.NoError(t, err)

	require.Len(t, fakeComm.packed, 1)
	var wire struct {
		ThID string              `json:"thid"`
		Body challengeResultBody `json:"body"`
	}
	require.NoError(t, json.Unmarshal(fakeComm.packed[0].body, &wire))
	assert.Equal(t, "challenge-1", wire.ThID)
	assert.Equal(t, "access-1", wire.Body.AccessToken)
	assert.Equal(t, "refresh-1", wire.Body.RefreshToken)
	assert.Len(t, mailboxRepo.recv[senderHash], 1)
}

func TestDispatchChallengeResponseMapsNonceMismatchToSessionInvalid(t *testing.T) {
	sessions := &fakeSessionService{
		challengeResponseFunc: func(ctx context.Context, sessionID string, resp session.ChallengeResponse) (session.Tokens, error) {
			return session.Tokens{}, session.ErrNonceMismatch
		},
	}
	d, _, _, _, accounts, _ := newTestDispatcherWithSessions(t, sessions)
	ctx := context.Background()

	senderDID := "did:key:alice"
	senderHash := accounts.Hash(senderDID)
	_, err := accounts.Create(ctx, senderHash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	body, _ := json.Marshal(challengeResponseMsgBody{ID: "challenge-1", From: senderDID, SessionID: "sess-1", Nonce: "wrong"})
	err = d.Dispatch(ctx, senderHash, didcomm.Envelope{From: senderDID, Type: TypeAuthChallengeResponse, Body: body})

	require.Error(t, err)
	var probErr problem.Error
	require.ErrorAs(t, err, &probErr)
	assert.Equal(t, problem.CodeSessionInvalid, probErr.Code)
}
