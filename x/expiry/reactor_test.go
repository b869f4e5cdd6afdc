package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/account"
	"github.com/affinidi/didcomm-mediator/x/mailbox"
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
	a.AccessList = append(a.AccessList, entry)
	f.accounts[didHash] = a
	return false, nil
}

func (f *fakeAccountRepository) RemoveAccessListEntry(ctx context.Context, didHash, entry string) error {
	return nil
}

type fakeMailboxRepository struct {
	stats   map[string]core.QueueStats
	expired []mailbox.ExpiredEntry
}

func newFakeMailboxRepository() *fakeMailboxRepository {
	return &fakeMailboxRepository{stats: map[string]core.QueueStats{}}
}

func (f *fakeMailboxRepository) Put(ctx context.Context, msg core.Message) (mailbox.PutOutcome, error) {
	return mailbox.PutOutcome{Status: core.PutResultStored}, nil
}

func (f *fakeMailboxRepository) List(ctx context.Context, didHash string, q mailbox.Queue, cursor string, limit int64) ([]core.Message, string, error) {
	return nil, "", nil
}

func (f *fakeMailboxRepository) Delete(ctx context.Context, didHash string, q mailbox.Queue, contentHash string) (bool, error) {
	return true, nil
}

func (f *fakeMailboxRepository) Stats(ctx context.Context, didHash string, q mailbox.Queue) (core.QueueStats, error) {
	return f.stats[didHash+"|"+string(q)], nil
}

func (f *fakeMailboxRepository) ExpireBefore(ctx context.Context, before time.Time, limit int64) ([]mailbox.ExpiredEntry, error) {
	if int64(len(f.expired)) > limit {
		batch := f.expired[:limit]
		f.expired = f.expired[limit:]
		return batch, nil
	}
	batch := f.expired
	f.expired = nil
	return batch, nil
}

type fakePublisher struct{}

func (fakePublisher) Publish(ctx context.Context, didHash string, event core.Event) {}

const testMediatorDID = "did:key:mediator"

func newTestReactor(t *testing.T, cfg core.Config) (*reactor, *fakeAccountRepository, *fakeMailboxRepository, account.Service, mailbox.Service) {
	accountRepo := newFakeAccountRepository()
	accounts := account.NewService(accountRepo, cfg, testMediatorDID)

	mailboxRepo := newFakeMailboxRepository()
	mailboxes := mailbox.NewService(mailboxRepo, accounts, fakePublisher{}, cfg)

	r := NewReactor(mailboxes, accounts, cfg).(*reactor)
	return r, accountRepo, mailboxRepo, accounts, mailboxes
}

func TestSweepMessagesDrainsUntilShort(t *testing.T) {
	cfg := core.Defaults()
	cfg.Expiry.SweepBatchSize = 2
	r, _, mailboxRepo, _, _ := newTestReactor(t, cfg)

	mailboxRepo.expired = []mailbox.ExpiredEntry{
		{DIDHash: "a", Queue: mailbox.QueueReceive, ContentHash: "h1"},
		{DIDHash: "a", Queue: mailbox.QueueReceive, ContentHash: "h2"},
		{DIDHash: "a", Queue: mailbox.QueueReceive, ContentHash: "h3"},
	}

	removed, err := r.sweepMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}

func TestSweepEmptyAccountsRemovesTransientAccount(t *testing.T) {
	cfg := core.Defaults()
	cfg.ACL.GlobalDefaultACL = core.ACLRuleDenyAll
	r, accountRepo, _, accounts, _ := newTestReactor(t, cfg)
	ctx := context.Background()

	hash := accounts.Hash("did:key:alice")
	_, err := accounts.GetOrCreate(ctx, hash)
	require.NoError(t, err)

	pruned, err := r.sweepEmptyAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	_, ok := accountRepo.accounts[hash]
	assert.False(t, ok)
}

func TestSweepEmptyAccountsKeepsAccountWithCustomACL(t *testing.T) {
	cfg := core.Defaults()
	cfg.ACL.GlobalDefaultACL = core.ACLRuleDenyAll
	r, accountRepo, _, accounts, _ := newTestReactor(t, cfg)
	ctx := context.Background()

	hash := accounts.Hash("did:key:alice")
	_, err := accounts.Create(ctx, hash, core.ACLSendMessages, core.AccountTypeStandard)
	require.NoError(t, err)

	pruned, err := r.sweepEmptyAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)
	_, ok := accountRepo.accounts[hash]
	assert.True(t, ok)
}

func TestSweepEmptyAccountsKeepsAccountWithQueuedMessages(t *testing.T) {
	cfg := core.Defaults()
	cfg.ACL.GlobalDefaultACL = core.ACLRuleDenyAll
	r, accountRepo, mailboxRepo, accounts, _ := newTestReactor(t, cfg)
	ctx := context.Background()

	hash := accounts.Hash("did:key:alice")
	_, err := accounts.GetOrCreate(ctx, hash)
	require.NoError(t, err)
	mailboxRepo.stats[hash+"|"+string(mailbox.QueueReceive)] = core.QueueStats{Count: 1}

	pruned, err := r.sweepEmptyAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)
	_, ok := accountRepo.accounts[hash]
	assert.True(t, ok)
}

func TestSweepEmptyAccountsNeverRemovesMediator(t *testing.T) {
	cfg := core.Defaults()
	r, accountRepo, _, accounts, _ := newTestReactor(t, cfg)
	ctx := context.Background()

	mediatorHash := accounts.Hash(testMediatorDID)
	_, err := accounts.Create(ctx, mediatorHash, 0, core.AccountTypeMediator)
	require.NoError(t, err)

	pruned, err := r.sweepEmptyAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)
	_, ok := accountRepo.accounts[mediatorHash]
	assert.True(t, ok)
}
