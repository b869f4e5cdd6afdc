package oob

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/affinidi/didcomm-mediator/core"
)

// Actor mirrors x/account.Actor to avoid an import cycle — only the two
// values this package needs (the invitation's own owner, or an
// administrator acting on someone else's behalf) are reproduced here.
type Actor int

const (
	ActorOwner Actor = iota
	ActorAdmin
)

// Service is the OOB invitation store of spec §3 "OOB invitation": a
// short-lived, inviter-owned record retrievable by anyone holding its id
// and deletable only by its owner or an administrator.
type Service interface {
	Create(ctx context.Context, inviterHash string, invitation string) (core.OOBInvitation, error)
	Get(ctx context.Context, id string) (core.OOBInvitation, error)
	Delete(ctx context.Context, actor Actor, requesterHash string, id string) error
}

type service struct {
	repository Repository
	ttl        time.Duration
}

// NewService builds the OOB invitation store. ttl is the configured
// OOB-invite TTL (core.Config.TTL.OOBInvite).
func NewService(repository Repository, ttl time.Duration) Service {
	return &service{repository: repository, ttl: ttl}
}

func (s *service) Create(ctx context.Context, inviterHash string, invitation string) (core.OOBInvitation, error) {
	ctx, span := tracer.Start(ctx, "OOB.Service.Create")
	defer span.End()

	now := time.Now()
	inv := core.OOBInvitation{
		ID:          uuid.NewString(),
		InviterHash: inviterHash,
		Invitation:  invitation,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	if err := s.repository.Create(ctx, inv); err != nil {
		span.RecordError(err)
		return core.OOBInvitation{}, err
	}
	return inv, nil
}

func (s *service) Get(ctx context.Context, id string) (core.OOBInvitation, error) {
	ctx, span := tracer.Start(ctx, "OOB.Service.Get")
	defer span.End()

	inv, err := s.repository.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return core.OOBInvitation{}, err
	}
	return inv, nil
}

// Delete removes an invitation. An owner may only delete their own
// invitation; an administrator may delete any of them.
func (s *service) Delete(ctx context.Context, actor Actor, requesterHash string, id string) error {
	ctx, span := tracer.Start(ctx, "OOB.Service.Delete")
	defer span.End()

	if actor == ActorOwner {
		inv, err := s.repository.Get(ctx, id)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if inv.InviterHash != requesterHash {
			return core.NewErrorPermissionDenied()
		}
	}

	return s.repository.Delete(ctx, id)
}
