package oob

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/affinidi/didcomm-mediator/core"
)

const keyPrefix = "mediator:oob:"

func invitationKey(id string) string { return keyPrefix + id }

// Repository is the OOB invitation store's persistence interface (spec §3
// "OOB invitation"): a hash keyed by invitation id carrying its own TTL, the
// same shape `x/session`'s repository uses for the session table.
type Repository interface {
	Create(ctx context.Context, invitation core.OOBInvitation) error
	Get(ctx context.Context, id string) (core.OOBInvitation, error)
	Delete(ctx context.Context, id string) error
}

type repository struct {
	rdb *redis.Client
}

func NewRepository(rdb *redis.Client) Repository {
	return &repository{rdb: rdb}
}

func (r *repository) Create(ctx context.Context, inv core.OOBInvitation) error {
	ctx, span := tracer.Start(ctx, "OOB.Repository.Create")
	defer span.End()

	ttl := time.Until(inv.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, invitationKey(inv.ID), map[string]interface{}{
		"inviterHash": inv.InviterHash,
		"invitation":  inv.Invitation,
		"createdAt":   inv.CreatedAt.Unix(),
		"expiresAt":   inv.ExpiresAt.Unix(),
	})
	pipe.Expire(ctx, invitationKey(inv.ID), ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *repository) Get(ctx context.Context, id string) (core.OOBInvitation, error) {
	ctx, span := tracer.Start(ctx, "OOB.Repository.Get")
	defer span.End()

	vals, err := r.rdb.HGetAll(ctx, invitationKey(id)).Result()
	if err != nil {
		span.RecordError(err)
		return core.OOBInvitation{}, err
	}
	if len(vals) == 0 {
		return core.OOBInvitation{}, core.NewErrorNotFound()
	}

	createdAt, _ := strconv.ParseInt(vals["createdAt"], 10, 64)
	expiresAt, _ := strconv.ParseInt(vals["expiresAt"], 10, 64)

	return core.OOBInvitation{
		ID:          id,
		InviterHash: vals["inviterHash"],
		Invitation:  vals["invitation"],
		CreatedAt:   time.Unix(createdAt, 0),
		ExpiresAt:   time.Unix(expiresAt, 0),
	}, nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "OOB.Repository.Delete")
	defer span.End()

	err := r.rdb.Del(ctx, invitationKey(id)).Err()
	if err != nil {
		span.RecordError(err)
	}
	return err
}
