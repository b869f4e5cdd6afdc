package session

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/affinidi/didcomm-mediator/core"
)

const keyPrefix = "mediator:session:"

func sessionKey(id string) string { return keyPrefix + id }

// Repository is the session table's persistence interface (spec §4.4). The
// session table is a TTL-bound cache, not the account store's durable
// source of truth, so every write carries an explicit expiration.
type Repository interface {
	Create(ctx context.Context, session core.Session) error
	Get(ctx context.Context, id string) (core.Session, error)
	Save(ctx context.Context, session core.Session) error
	Delete(ctx context.Context, id string) error
}

type repository struct {
	rdb *redis.Client
}

// NewRepository creates the session repository.
func NewRepository(rdb *redis.Client) Repository {
	return &repository{rdb}
}

func (r *repository) Create(ctx context.Context, s core.Session) error {
	ctx, span := tracer.Start(ctx, "Session.Repository.Create")
	defer span.End()

	return r.write(ctx, s)
}

func (r *repository) Save(ctx context.Context, s core.Session) error {
	ctx, span := tracer.Start(ctx, "Session.Repository.Save")
	defer span.End()

	return r.write(ctx, s)
}

func (r *repository) write(ctx context.Context, s core.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, sessionKey(s.ID), map[string]interface{}{
		"didHash":      s.DIDHash,
		"state":        int(s.State),
		"nonce":        s.Nonce,
		"accessToken":  s.AccessToken,
		"refreshToken": s.RefreshToken,
		"transport":    int(s.Transport),
		"createdAt":    s.CreatedAt.Unix(),
		"expiresAt":    s.ExpiresAt.Unix(),
		"liveDelivery": s.LiveDelivery,
	})
	pipe.Expire(ctx, sessionKey(s.ID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *repository) Get(ctx context.Context, id string) (core.Session, error) {
	ctx, span := tracer.Start(ctx, "Session.Repository.Get")
	defer span.End()

	vals, err := r.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		span.RecordError(err)
		return core.Session{}, err
	}
	if len(vals) == 0 {
		return core.Session{}, core.NewErrorNotFound()
	}

	state, _ := strconv.Atoi(vals["state"])
	transport, _ := strconv.Atoi(vals["transport"])
	createdAt, _ := strconv.ParseInt(vals["createdAt"], 10, 64)
	expiresAt, _ := strconv.ParseInt(vals["expiresAt"], 10, 64)
	liveDelivery, _ := strconv.ParseBool(vals["liveDelivery"])

	return core.Session{
		ID:           id,
		DIDHash:      vals["didHash"],
		State:        core.SessionState(state),
		Nonce:        vals["nonce"],
		AccessToken:  vals["accessToken"],
		RefreshToken: vals["refreshToken"],
		Transport:    core.Transport(transport),
		CreatedAt:    time.Unix(createdAt, 0),
		ExpiresAt:    time.Unix(expiresAt, 0),
		LiveDelivery: liveDelivery,
	}, nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Session.Repository.Delete")
	defer span.End()

	err := r.rdb.Del(ctx, sessionKey(id)).Err()
	if err != nil {
		span.RecordError(err)
	}
	return err
}
