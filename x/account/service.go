package account

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/affinidi/didcomm-mediator/core"
)

// Service is the account store service of spec §4.2.
type Service interface {
	// Hash normalises a DID or a pre-hashed hex string to the canonical
	// SHA-256 hex hash used as primary key everywhere.
	Hash(didOrHash string) string

	Get(ctx context.Context, didHash string) (core.Account, error)
	// GetOrCreate returns the account for didHash, creating a
	// default-ACL Standard account if none exists (spec §4.3 step 2).
	GetOrCreate(ctx context.Context, didHash string) (core.Account, error)
	Create(ctx context.Context, didHash string, initialACL core.ACLMask, typ core.AccountType) (core.Account, error)
	Remove(ctx context.Context, didHash string) error
	List(ctx context.Context, cursor string, limit int64) ([]core.Account, string, error)

	ChangeType(ctx context.Context, actingAdminType core.AccountType, didHash string, newType core.AccountType) (core.Account, error)
	ChangeQueueLimits(ctx context.Context, didHash string, send, receive *int64, isAdmin bool) (core.Account, error)
	ChangeACL(ctx context.Context, actor Actor, didHash string, bit core.ACLMask, value bool) (core.Account, error)

	AddAccessListEntry(ctx context.Context, didHash, entryHash string) (truncated bool, err error)
	RemoveAccessListEntry(ctx context.Context, didHash, entryHash string) error

	// MediatorDIDHash returns the mediator's own memoized, protected hash.
	MediatorDIDHash() string
	IsProtected(account core.Account) bool
}

// Actor mirrors x/acl.Actor to avoid an import cycle; account and acl both
// depend on core only.
type Actor int

const (
	ActorOwner Actor = iota
	ActorAdmin
)

type service struct {
	repository      Repository
	config          core.Config
	mediatorDIDHash string
}

// NewService creates the account service. mediatorDID is hashed once at
// startup and memoized as spec §4.2 requires ("mediator's own DID hash is
// memoized at startup and treated as a protected account").
func NewService(repository Repository, config core.Config, mediatorDID string) Service {
	s := &service{repository: repository, config: config}
	s.mediatorDIDHash = s.Hash(mediatorDID)
	return s
}

func (s *service) MediatorDIDHash() string { return s.mediatorDIDHash }

func (s *service) Hash(didOrHash string) string {
	if isHexSHA256(didOrHash) {
		return strings.ToLower(didOrHash)
	}
	sum := sha256.Sum256([]byte(didOrHash))
	return hex.EncodeToString(sum[:])
}

func isHexSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func (s *service) Get(ctx context.Context, didHash string) (core.Account, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.Get")
	defer span.End()

	return s.repository.Get(ctx, didHash)
}

func (s *service) GetOrCreate(ctx context.Context, didHash string) (core.Account, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.GetOrCreate")
	defer span.End()

	account, err := s.repository.Get(ctx, didHash)
	if err == nil {
		return account, nil
	}
	if _, ok := err.(core.ErrorNotFound); !ok {
		span.RecordError(err)
		return core.Account{}, err
	}

	defaultACL, _ := core.ResolveACLRule(s.config.ACL.GlobalDefaultACL)
	if s.config.ACL.Mode == core.ACLModeNameExplicitDeny {
		defaultACL = defaultACL.Set(core.ACLAccessListMode)
	}

	return s.Create(ctx, didHash, defaultACL, core.AccountTypeStandard)
}

func (s *service) Create(ctx context.Context, didHash string, initialACL core.ACLMask, typ core.AccountType) (core.Account, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.Create")
	defer span.End()

	account := core.Account{
		DIDHash:           didHash,
		Type:              typ,
		ACL:               initialACL,
		SendQueueLimit:    s.config.Queue.SendSoft,
		ReceiveQueueLimit: s.config.Queue.ReceiveSoft,
	}

	created, err := s.repository.Create(ctx, account)
	if err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}
	return created, nil
}

func (s *service) IsProtected(account core.Account) bool {
	if account.Type == core.AccountTypeRootAdmin || account.Type == core.AccountTypeMediator {
		return true
	}
	return constantTimeEqual(account.DIDHash, s.mediatorDIDHash)
}

func (s *service) Remove(ctx context.Context, didHash string) error {
	ctx, span := tracer.Start(ctx, "Account.Service.Remove")
	defer span.End()

	account, err := s.repository.Get(ctx, didHash)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if s.IsProtected(account) {
		return core.NewErrorProtected("cannot remove RootAdmin, Mediator, or the mediator's own account")
	}

	return s.repository.Remove(ctx, didHash)
}

func (s *service) List(ctx context.Context, cursor string, limit int64) ([]core.Account, string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.List")
	defer span.End()

	return s.repository.List(ctx, cursor, limit)
}

// ChangeType enforces spec §4.2 "Change-type rules": cannot change to/from
// Mediator; cannot strip RootAdmin unless performed by another RootAdmin;
// demoting the last admin fails.
func (s *service) ChangeType(ctx context.Context, actingAdminType core.AccountType, didHash string, newType core.AccountType) (core.Account, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ChangeType")
	defer span.End()

	account, err := s.repository.Get(ctx, didHash)
	if err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}

	if account.Type == core.AccountTypeMediator || newType == core.AccountTypeMediator {
		return core.Account{}, core.NewErrorProtected("cannot change to/from Mediator")
	}

	if account.Type == core.AccountTypeRootAdmin && newType != core.AccountTypeRootAdmin {
		if actingAdminType != core.AccountTypeRootAdmin {
			return core.Account{}, core.NewErrorProtected("only another RootAdmin may strip RootAdmin")
		}
	}

	if account.Type == core.AccountTypeAdmin && newType != core.AccountTypeAdmin {
		admins, err := s.repository.ListAdmins(ctx)
		if err != nil {
			span.RecordError(err)
			return core.Account{}, err
		}
		if len(admins) <= 1 {
			return core.Account{}, core.NewErrorProtected("cannot demote the last admin")
		}
	}

	account.Type = newType
	if err := s.repository.Save(ctx, account); err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}
	return account, nil
}

// ChangeQueueLimits implements the write-API semantics of spec §4.2:
// nil means no change, -1 unlimited, -2 reset to soft default, positive
// values clamp to [soft, hard] unless the caller is an admin.
func (s *service) ChangeQueueLimits(ctx context.Context, didHash string, send, receive *int64, isAdmin bool) (core.Account, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ChangeQueueLimits")
	defer span.End()

	account, err := s.repository.Get(ctx, didHash)
	if err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}

	account.SendQueueLimit = resolveLimit(account.SendQueueLimit, send, s.config.Queue.SendSoft, s.config.Queue.SendHard, isAdmin)
	account.ReceiveQueueLimit = resolveLimit(account.ReceiveQueueLimit, receive, s.config.Queue.ReceiveSoft, s.config.Queue.ReceiveHard, isAdmin)

	if err := s.repository.Save(ctx, account); err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}
	return account, nil
}

func resolveLimit(current int64, requested *int64, soft, hard int64, isAdmin bool) int64 {
	if requested == nil {
		return current
	}
	switch *requested {
	case QueueLimitUnlimited:
		return QueueLimitUnlimited
	case QueueLimitResetSoft:
		return soft
	}
	if isAdmin {
		return *requested
	}
	if *requested < soft {
		return soft
	}
	if *requested > hard {
		return hard
	}
	return *requested
}

// ChangeACL implements the self-change/admin write authorization of
// spec §4.1 rule 5 via x/acl's pure WriteAllowed, kept here duplicated as
// a small local enum (Actor) to avoid importing x/acl, which itself has no
// dependency on account — account is the lower layer in the import graph.
func (s *service) ChangeACL(ctx context.Context, actor Actor, didHash string, bit core.ACLMask, value bool) (core.Account, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.ChangeACL")
	defer span.End()

	account, err := s.repository.Get(ctx, didHash)
	if err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}

	if actor == ActorOwner {
		if core.IsProtectedFromSelfChange(bit) {
			return core.Account{}, core.NewErrorPermissionDenied()
		}
		if !account.ACL.SelfChangeAllows(bit) {
			return core.Account{}, core.NewErrorPermissionDenied()
		}
	}

	account.ACL = account.ACL.With(bit, value)
	if err := s.repository.Save(ctx, account); err != nil {
		span.RecordError(err)
		return core.Account{}, err
	}
	return account, nil
}

func (s *service) AddAccessListEntry(ctx context.Context, didHash, entryHash string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.AddAccessListEntry")
	defer span.End()

	return s.repository.AddAccessListEntry(ctx, didHash, entryHash, s.config.Queue.AccessListMax)
}

func (s *service) RemoveAccessListEntry(ctx context.Context, didHash, entryHash string) error {
	ctx, span := tracer.Start(ctx, "Account.Service.RemoveAccessListEntry")
	defer span.End()

	return s.repository.RemoveAccessListEntry(ctx, didHash, entryHash)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
