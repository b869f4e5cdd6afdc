package mailbox

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/affinidi/didcomm-mediator/core"
)

const (
	keyPrefix    = "mediator:mailbox:"
	msgKeyPrefix = "mediator:mailbox:msg:"
	expiryKey    = "mediator:mailbox:expiry"
	seqKeySuffix = ":seq"
)

func zsetKey(didHash string, q Queue) string  { return keyPrefix + didHash + ":" + string(q) }
func bytesKey(didHash string, q Queue) string { return keyPrefix + didHash + ":" + string(q) + ":bytes" }
func seqKey(didHash string, q Queue) string   { return keyPrefix + didHash + ":" + string(q) + seqKeySuffix }
func msgKey(contentHash string) string        { return msgKeyPrefix + contentHash }

// Repository is the mailbox store's persistence interface (spec §4.3).
type Repository interface {
	// Put inserts envelope into both the sender's send-queue and the
	// recipient's receive-queue, atomically enforcing hard caps and
	// dedupe (spec §4.3 "Insert contract").
	Put(ctx context.Context, msg core.Message) (PutOutcome, error)

	// List returns up to limit messages from didHash's queue, oldest
	// first, starting after cursor (spec §4.3 "Pickup contract").
	List(ctx context.Context, didHash string, q Queue, cursor string, limit int64) ([]core.Message, string, error)

	// Delete removes contentHash from didHash's queue and returns
	// whether it was present.
	Delete(ctx context.Context, didHash string, q Queue, contentHash string) (bool, error)

	Stats(ctx context.Context, didHash string, q Queue) (core.QueueStats, error)

	// ExpireBefore returns up to limit (didHash, queue, contentHash)
	// tuples whose expiry has passed, for the sweeper (spec §4.8).
	ExpireBefore(ctx context.Context, before time.Time, limit int64) ([]ExpiredEntry, error)
}

// ExpiredEntry identifies one queue slot past its expiry.
type ExpiredEntry struct {
	DIDHash     string
	Queue       Queue
	ContentHash string
}

type repository struct {
	rdb *redis.Client
}

// NewRepository creates a new mailbox repository.
func NewRepository(rdb *redis.Client) Repository {
	return &repository{rdb}
}

func (r *repository) Put(ctx context.Context, msg core.Message) (PutOutcome, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Repository.Put")
	defer span.End()

	score, err := r.arrivalScore(ctx, msg.RecipientHash, QueueReceive)
	if err != nil {
		span.RecordError(err)
		return PutOutcome{}, err
	}

	res, err := insertScript.Run(ctx, r.rdb, []string{
		zsetKey(msg.SenderHash, QueueSend),
		bytesKey(msg.SenderHash, QueueSend),
		zsetKey(msg.RecipientHash, QueueReceive),
		bytesKey(msg.RecipientHash, QueueReceive),
		msgKey(msg.ContentHash),
	},
		msg.ContentHash,
		score,
		msg.Size,
		sendHardCapArg(ctx),
		recvHardCapArg(ctx),
		msg.Envelope,
		msg.SenderHash,
		msg.RecipientHash,
		msg.ReceivedAt.Unix(),
		msg.ExpiresAt.Unix(),
	).Result()
	if err != nil {
		span.RecordError(err)
		return PutOutcome{}, err
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return PutOutcome{}, core.NewErrorRetryable(nil)
	}
	status, _ := pair[0].(string)
	reason, _ := pair[1].(string)

	switch status {
	case "stored":
		if !msg.ExpiresAt.IsZero() {
			r.rdb.ZAdd(ctx, expiryKey, redis.Z{
				Score:  float64(msg.ExpiresAt.Unix()),
				Member: encodeExpiryMember(msg.RecipientHash, QueueReceive, msg.ContentHash),
			})
			r.rdb.ZAdd(ctx, expiryKey, redis.Z{
				Score:  float64(msg.ExpiresAt.Unix()),
				Member: encodeExpiryMember(msg.SenderHash, QueueSend, msg.ContentHash),
			})
		}
		return PutOutcome{Status: core.PutResultStored}, nil
	case "dup":
		return PutOutcome{Status: core.PutResultStored}, nil
	case "rejected":
		return PutOutcome{Status: core.PutResultRejected, Reason: reason}, nil
	default:
		return PutOutcome{}, core.NewErrorRetryable(nil)
	}
}

// arrivalScore produces the ZSET score described in spec §4.3: millisecond
// UNIX epoch in the high digits, a monotonic 0-999 tiebreaker in the low
// three, so two inserts landing in the same millisecond still order
// deterministically (spec §5 "Ordering").
func (r *repository) arrivalScore(ctx context.Context, didHash string, q Queue) (float64, error) {
	seq, err := r.rdb.Incr(ctx, seqKey(didHash, q)).Result()
	if err != nil {
		return 0, err
	}
	return float64(time.Now().UnixMilli())*1000 + float64(seq%1000), nil
}

// sendHardCapArg/recvHardCapArg exist so the hard-cap values used by the
// Lua script come from the caller's context rather than being baked into
// the repository; the service layer stashes them via context because the
// script needs per-queue limits that live on the account record, which the
// repository has no business loading.
type hardCapCtxKey struct{ q Queue }

func withHardCap(ctx context.Context, q Queue, limit int64) context.Context {
	return context.WithValue(ctx, hardCapCtxKey{q}, limit)
}

func hardCapFrom(ctx context.Context, q Queue) int64 {
	if v, ok := ctx.Value(hardCapCtxKey{q}).(int64); ok {
		return v
	}
	return -1
}

func sendHardCapArg(ctx context.Context) int64 { return hardCapFrom(ctx, QueueSend) }
func recvHardCapArg(ctx context.Context) int64 { return hardCapFrom(ctx, QueueReceive) }

func (r *repository) List(ctx context.Context, didHash string, q Queue, cursor string, limit int64) ([]core.Message, string, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Repository.List")
	defer span.End()

	start, err := strconv.ParseFloat(cursor, 64)
	if err != nil {
		start = 0
	}

	entries, err := r.rdb.ZRangeByScoreWithScores(ctx, zsetKey(didHash, q), &redis.ZRangeBy{
		Min:    formatScore(start),
		Max:    "+inf",
		Offset: 0,
		Count:  limit + 1,
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}

	var messages []core.Message
	var nextCursor string
	for i, z := range entries {
		if start > 0 && z.Score == start {
			continue
		}
		if int64(len(messages)) >= limit {
			nextCursor = formatScore(entries[i-1].Score)
			break
		}
		contentHash, _ := z.Member.(string)
		msg, err := r.loadMessage(ctx, contentHash)
		if err != nil {
			continue
		}
		msg.ContentHash = contentHash
		messages = append(messages, msg)
		nextCursor = formatScore(z.Score)
	}

	return messages, nextCursor, nil
}

func (r *repository) loadMessage(ctx context.Context, contentHash string) (core.Message, error) {
	vals, err := r.rdb.HGetAll(ctx, msgKey(contentHash)).Result()
	if err != nil {
		return core.Message{}, err
	}
	if len(vals) == 0 {
		return core.Message{}, core.NewErrorNotFound()
	}

	size, _ := strconv.ParseInt(vals["size"], 10, 64)
	receivedAt, _ := strconv.ParseInt(vals["receivedAt"], 10, 64)
	expiresAt, _ := strconv.ParseInt(vals["expiresAt"], 10, 64)

	return core.Message{
		SenderHash:    vals["sender"],
		RecipientHash: vals["recipient"],
		Envelope:      []byte(vals["envelope"]),
		Size:          size,
		ReceivedAt:    time.Unix(receivedAt, 0),
		ExpiresAt:     time.Unix(expiresAt, 0),
	}, nil
}

func (r *repository) Delete(ctx context.Context, didHash string, q Queue, contentHash string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Repository.Delete")
	defer span.End()

	otherKey, err := r.otherZsetKey(ctx, didHash, q, contentHash)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	res, err := deleteScript.Run(ctx, r.rdb, []string{
		zsetKey(didHash, q),
		bytesKey(didHash, q),
		msgKey(contentHash),
		otherKey,
	}, contentHash).Result()
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	r.rdb.ZRem(ctx, expiryKey, encodeExpiryMember(didHash, q, contentHash))

	removed, _ := res.(int64)
	return removed == 1, nil
}

// otherZsetKey resolves the ZSET key of the queue on the opposite side of
// contentHash's envelope — the sender's send-queue when deleting from a
// recipient's receive-queue, or vice versa — so deleteScript can tell
// whether the shared envelope hash is still referenced by anyone before
// removing it (spec §4.8 "removes them from both queues and the envelope
// hash"). A missing or already-gone envelope record resolves to "", which
// ZSCOREs to nothing and lets the script treat it as unreferenced.
func (r *repository) otherZsetKey(ctx context.Context, didHash string, q Queue, contentHash string) (string, error) {
	fields, err := r.rdb.HMGet(ctx, msgKey(contentHash), "sender", "recipient").Result()
	if err != nil {
		return "", err
	}
	sender, _ := fields[0].(string)
	recipient, _ := fields[1].(string)

	switch q {
	case QueueSend:
		if recipient == "" {
			return "", nil
		}
		return zsetKey(recipient, QueueReceive), nil
	case QueueReceive:
		if sender == "" {
			return "", nil
		}
		return zsetKey(sender, QueueSend), nil
	default:
		return "", nil
	}
}

func (r *repository) Stats(ctx context.Context, didHash string, q Queue) (core.QueueStats, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Repository.Stats")
	defer span.End()

	count, err := r.rdb.ZCard(ctx, zsetKey(didHash, q)).Result()
	if err != nil {
		span.RecordError(err)
		return core.QueueStats{}, err
	}
	bytesVal, err := r.rdb.Get(ctx, bytesKey(didHash, q)).Int64()
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		return core.QueueStats{}, err
	}
	return core.QueueStats{Count: count, Bytes: bytesVal}, nil
}

func (r *repository) ExpireBefore(ctx context.Context, before time.Time, limit int64) ([]ExpiredEntry, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Repository.ExpireBefore")
	defer span.End()

	members, err := r.rdb.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	entries := make([]ExpiredEntry, 0, len(members))
	for _, m := range members {
		entry, ok := decodeExpiryMember(m)
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func encodeExpiryMember(didHash string, q Queue, contentHash string) string {
	return didHash + "|" + string(q) + "|" + contentHash
}

func decodeExpiryMember(member string) (ExpiredEntry, bool) {
	var didHash, queue, contentHash string
	n := 0
	for i, part := range splitThree(member) {
		switch i {
		case 0:
			didHash = part
		case 1:
			queue = part
		case 2:
			contentHash = part
		}
		n++
	}
	if n != 3 {
		return ExpiredEntry{}, false
	}
	return ExpiredEntry{DIDHash: didHash, Queue: Queue(queue), ContentHash: contentHash}, true
}

func splitThree(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
