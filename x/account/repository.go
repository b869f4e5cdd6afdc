package account

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/affinidi/didcomm-mediator/core"
)

const (
	keyPrefix           = "mediator:account:"
	accessListKeySuffix = ":accesslist"
	adminSetKey         = "mediator:accounts:admins"
)

func accountKey(didHash string) string    { return keyPrefix + didHash }
func accessListKey(didHash string) string { return keyPrefix + didHash + accessListKeySuffix }

// Repository is the account store's persistence interface (spec §4.2).
type Repository interface {
	Get(ctx context.Context, didHash string) (core.Account, error)
	Create(ctx context.Context, account core.Account) (core.Account, error)
	Save(ctx context.Context, account core.Account) error
	Remove(ctx context.Context, didHash string) error
	List(ctx context.Context, cursor string, limit int64) ([]core.Account, string, error)
	ListAdmins(ctx context.Context) ([]string, error)
	AddAccessListEntry(ctx context.Context, didHash, entry string, max int) (truncated bool, err error)
	RemoveAccessListEntry(ctx context.Context, didHash, entry string) error
}

type repository struct {
	rdb *redis.Client
}

// NewRepository creates a new account repository.
func NewRepository(rdb *redis.Client) Repository {
	return &repository{rdb}
}

func (r *repository) Get(ctx context.Context, didHash string) (core.Account, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.Get")
	defer span.End()

	vals, err := r.rdb.HGetAll(ctx, accountKey(didHash)).Result()
	if err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}
	if len(vals) == 0 {
		return core.Account{}, core.NewErrorNotFound()
	}

	accessList, err := r.rdb.LRange(ctx, accessListKey(didHash), 0, -1).Result()
	if err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}

	return hashToAccount(didHash, vals, accessList), nil
}

func (r *repository) Create(ctx context.Context, account core.Account) (core.Account, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.Create")
	defer span.End()

	exists, err := r.rdb.Exists(ctx, accountKey(account.DIDHash)).Result()
	if err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}
	if exists == 1 {
		return core.Account{}, core.NewErrorAlreadyExists()
	}

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}

	if err := r.write(ctx, account); err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}

	if account.Type == core.AccountTypeAdmin || account.Type == core.AccountTypeRootAdmin {
		if err := r.rdb.SAdd(ctx, adminSetKey, account.DIDHash).Err(); err != nil {
			span.RecordError(err)
			return core.Account{}, err
		}
	}

	return account, nil
}

func (r *repository) Save(ctx context.Context, account core.Account) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.Save")
	defer span.End()

	if err := r.write(ctx, account); err != nil {
		span.RecordError(err)
		return err
	}

	if account.Type == core.AccountTypeAdmin || account.Type == core.AccountTypeRootAdmin {
		return r.rdb.SAdd(ctx, adminSetKey, account.DIDHash).Err()
	}
	return r.rdb.SRem(ctx, adminSetKey, account.DIDHash).Err()
}

func (r *repository) write(ctx context.Context, account core.Account) error {
	return r.rdb.HSet(ctx, accountKey(account.DIDHash), map[string]interface{}{
		"type":              int(account.Type),
		"acl":               uint64(account.ACL),
		"sendQueueLimit":    account.SendQueueLimit,
		"receiveQueueLimit": account.ReceiveQueueLimit,
		"createdAt":         account.CreatedAt.Unix(),
	}).Err()
}

func (r *repository) Remove(ctx context.Context, didHash string) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.Remove")
	defer span.End()

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, accountKey(didHash))
	pipe.Del(ctx, accessListKey(didHash))
	pipe.SRem(ctx, adminSetKey, didHash)
	_, err := pipe.Exec(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *repository) List(ctx context.Context, cursor string, limit int64) ([]core.Account, string, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.List")
	defer span.End()

	startCursor, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		startCursor = 0
	}

	keys, nextCursor, err := r.rdb.Scan(ctx, startCursor, keyPrefix+"*", limit).Result()
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}

	var accounts []core.Account
	for _, key := range keys {
		if strings.HasSuffix(key, accessListKeySuffix) {
			continue
		}
		didHash := strings.TrimPrefix(key, keyPrefix)
		account, err := r.Get(ctx, didHash)
		if err != nil {
			continue
		}
		accounts = append(accounts, account)
	}

	return accounts, strconv.FormatUint(nextCursor, 10), nil
}

func (r *repository) ListAdmins(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.ListAdmins")
	defer span.End()

	hashes, err := r.rdb.SMembers(ctx, adminSetKey).Result()
	if err != nil {
		span.RecordError(err)
	}
	return hashes, err
}

// AddAccessListEntry appends entry to didHash's access list, truncating per
// spec §3 invariant (f) "when full, additions are truncated and reported".
func (r *repository) AddAccessListEntry(ctx context.Context, didHash, entry string, max int) (bool, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.AddAccessListEntry")
	defer span.End()

	key := accessListKey(didHash)

	length, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if length >= int64(max) {
		return true, nil
	}

	if err := r.rdb.RPush(ctx, key, entry).Err(); err != nil {
		span.RecordError(err)
		return false, err
	}
	return false, nil
}

func (r *repository) RemoveAccessListEntry(ctx context.Context, didHash, entry string) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.RemoveAccessListEntry")
	defer span.End()

	err := r.rdb.LRem(ctx, accessListKey(didHash), 0, entry).Err()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func hashToAccount(didHash string, vals map[string]string, accessList []string) core.Account {
	typeVal, _ := strconv.Atoi(vals["type"])
	aclVal, _ := strconv.ParseUint(vals["acl"], 10, 64)
	sendLimit, _ := strconv.ParseInt(vals["sendQueueLimit"], 10, 64)
	receiveLimit, _ := strconv.ParseInt(vals["receiveQueueLimit"], 10, 64)
	createdAtUnix, _ := strconv.ParseInt(vals["createdAt"], 10, 64)

	return core.Account{
		DIDHash:           didHash,
		Type:              core.AccountType(typeVal),
		ACL:               core.ACLMask(aclVal),
		AccessList:        accessList,
		SendQueueLimit:    sendLimit,
		ReceiveQueueLimit: receiveLimit,
		CreatedAt:         time.Unix(createdAtUnix, 0),
	}
}
