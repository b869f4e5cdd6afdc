package mailbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/account"
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
	if _, ok := f.accounts[a.DIDHash]; ok {
		return core.Account{}, core.NewErrorAlreadyExists()
	}
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
	return nil, "0", nil
}

func (f *fakeAccountRepository) ListAdmins(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeAccountRepository) AddAccessListEntry(ctx context.Context, didHash, entry string, max int) (bool, error) {
	return false, nil
}

func (f *fakeAccountRepository) RemoveAccessListEntry(ctx context.Context, didHash, entry string) error {
	return nil
}

type fakeMailboxRepository struct {
	sendQueue map[string][]core.Message
	recvQueue map[string][]core.Message
	seen      map[string]bool
}

func newFakeMailboxRepository() *fakeMailboxRepository {
	return &fakeMailboxRepository{
		sendQueue: map[string][]core.Message{},
		recvQueue: map[string][]core.Message{},
		seen:      map[string]bool{},
	}
}

func (f *fakeMailboxRepository) Put(ctx context.Context, msg core.Message) (PutOutcome, error) {
	dedupeKey := msg.RecipientHash + "|" + msg.ContentHash
	if f.seen[dedupeKey] {
		return PutOutcome{Status: core.PutResultStored}, nil
	}

	sendHard := hardCapFrom(ctx, QueueSend)
	recvHard := hardCapFrom(ctx, QueueReceive)
	if sendHard >= 0 && int64(len(f.sendQueue[msg.SenderHash])) >= sendHard {
		return PutOutcome{Status: core.PutResultRejected, Reason: "queue-limit-sender"}, nil
	}
	if recvHard >= 0 && int64(len(f.recvQueue[msg.RecipientHash])) >= recvHard {
		return PutOutcome{Status: core.PutResultRejected, Reason: "queue-limit-recipient"}, nil
	}

	f.seen[dedupeKey] = true
	f.sendQueue[msg.SenderHash] = append(f.sendQueue[msg.SenderHash], msg)
	f.recvQueue[msg.RecipientHash] = append(f.recvQueue[msg.RecipientHash], msg)
	return PutOutcome{Status: core.PutResultStored}, nil
}

func (f *fakeMailboxRepository) queueFor(didHash string, q Queue) []core.Message {
	if q == QueueSend {
		return f.sendQueue[didHash]
	}
	return f.recvQueue[didHash]
}

func (f *fakeMailboxRepository) List(ctx context.Context, didHash string, q Queue, cursor string, limit int64) ([]core.Message, string, error) {
	all := f.queueFor(didHash, q)
	if int64(len(all)) > limit {
		all = all[:limit]
	}
	return all, "", nil
}

func (f *fakeMailboxRepository) Delete(ctx context.Context, didHash string, q Queue, contentHash string) (bool, error) {
	var queue map[string][]core.Message
	if q == QueueSend {
		queue = f.sendQueue
	} else {
		queue = f.recvQueue
	}
	list := queue[didHash]
	for i, m := range list {
		if m.ContentHash == contentHash {
			queue[didHash] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMailboxRepository) Stats(ctx context.Context, didHash string, q Queue) (core.QueueStats, error) {
	list := f.queueFor(didHash, q)
	var bytes int64
	for _, m := range list {
		bytes += m.Size
	}
	return core.QueueStats{Count: int64(len(list)), Bytes: bytes}, nil
}

func (f *fakeMailboxRepository) ExpireBefore(ctx context.Context, before time.Time, limit int64) ([]ExpiredEntry, error) {
	return nil, nil
}

type fakePublisher struct {
	events []core.Event
}

func (f *fakePublisher) Publish(ctx context.Context, didHash string, event core.Event) {
	f.events = append(f.events, event)
}

func newTestService() (Service, *fakeMailboxRepository, *fakePublisher) {
	repo := newFakeMailboxRepository()
	pub := &fakePublisher{}
	accounts := account.NewService(newFakeAccountRepository(), core.Defaults(), "did:example:mediator")
	svc := NewService(repo, accounts, pub, core.Defaults())
	return svc, repo, pub
}

func TestPutStoresInBothQueuesAndPublishes(t *testing.T) {
	ctx := context.Background()
	svc, repo, pub := newTestService()

	outcome, err := svc.Put(ctx, "sender-hash", "recipient-hash", []byte("envelope-bytes"), nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, core.PutResultStored, outcome.Status)
	assert.Len(t, repo.sendQueue["sender-hash"], 1)
	assert.Len(t, repo.recvQueue["recipient-hash"], 1)
	assert.Len(t, pub.events, 1)
}

func TestPutDedupesByContentHash(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	envelope := []byte("same-bytes")
	_, err := svc.Put(ctx, "sender-hash", "recipient-hash", envelope, nil, 0)
	assert.NoError(t, err)
	outcome, err := svc.Put(ctx, "sender-hash", "recipient-hash", envelope, nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, core.PutResultStored, outcome.Status)
	assert.Len(t, repo.recvQueue["recipient-hash"], 1)
}

func TestPutEphemeralSkipsPersistence(t *testing.T) {
	ctx := context.Background()
	svc, repo, pub := newTestService()

	outcome, err := svc.Put(ctx, "sender-hash", "recipient-hash", []byte("live-only"), json.RawMessage("true"), 0)
	assert.NoError(t, err)
	assert.Equal(t, core.PutResultLiveOnly, outcome.Status)
	assert.Len(t, repo.recvQueue["recipient-hash"], 0)
	assert.Len(t, pub.events, 1)
}

func TestPutEphemeralNonBooleanIsProtocolError(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	_, err := svc.Put(ctx, "sender-hash", "recipient-hash", []byte("x"), json.RawMessage(`"true"`), 0)
	assert.ErrorIs(t, err, ErrEphemeralNotBoolean)
}

func TestPutRejectsWhenRecipientHardCapReached(t *testing.T) {
	ctx := context.Background()
	repo := newFakeMailboxRepository()
	pub := &fakePublisher{}
	accountRepo := newFakeAccountRepository()
	accountRepo.accounts["recipient-hash"] = core.Account{DIDHash: "recipient-hash", Type: core.AccountTypeStandard, ReceiveQueueLimit: 1}
	accounts := account.NewService(accountRepo, core.Defaults(), "did:example:mediator")
	svc := NewService(repo, accounts, pub, core.Defaults())

	_, err := svc.Put(ctx, "sender-hash", "recipient-hash", []byte("one"), nil, 0)
	assert.NoError(t, err)

	outcome, err := svc.Put(ctx, "sender-hash", "recipient-hash", []byte("two"), nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, core.PutResultRejected, outcome.Status)
}

func TestListCapsAtConfiguredMax(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	for i := 0; i < 5; i++ {
		_, err := svc.Put(ctx, "sender-hash", "recipient-hash", []byte{byte(i)}, nil, 0)
		assert.NoError(t, err)
	}

	messages, _, err := svc.List(ctx, "recipient-hash", QueueReceive, "", 0)
	assert.NoError(t, err)
	assert.Len(t, messages, 5)
}

func TestDeleteRemovesAcknowledgedMessages(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	_, err := svc.Put(ctx, "sender-hash", "recipient-hash", []byte("to-delete"), nil, 0)
	assert.NoError(t, err)

	messages, _, err := svc.List(ctx, "recipient-hash", QueueReceive, "", 10)
	assert.NoError(t, err)
	assert.Len(t, messages, 1)

	removed, err := svc.Delete(ctx, "recipient-hash", QueueReceive, []string{messages[0].ContentHash})
	assert.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := svc.Stats(ctx, "recipient-hash", QueueReceive)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), stats.Count)
}
