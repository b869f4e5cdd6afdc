package mailbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/account"
)

// Publisher fans a stored or ephemeral message out to whatever socket is
// currently live for didHash. x/socket implements this; mailbox depends on
// the interface only to avoid a hard import-cycle on the connection manager.
type Publisher interface {
	Publish(ctx context.Context, didHash string, event core.Event)
}

// Service is the mailbox store service of spec §4.3.
type Service interface {
	// Put implements the insert contract. rawEphemeral is the raw JSON
	// value of the envelope's "ephemeral" header, or nil if absent; a
	// non-boolean JSON value is a protocol error per spec step 3.
	Put(ctx context.Context, senderHash, recipientHash string, envelope []byte, rawEphemeral json.RawMessage, ttl time.Duration) (PutOutcome, error)

	List(ctx context.Context, didHash string, q Queue, cursor string, limit int64) ([]core.Message, string, error)
	Delete(ctx context.Context, didHash string, q Queue, contentHashes []string) (int, error)
	Stats(ctx context.Context, didHash string, q Queue) (core.QueueStats, error)

	// SweepExpired releases storage for up to limit queue slots whose
	// expiry has passed (spec §4.8), returning how many were removed.
	SweepExpired(ctx context.Context, before time.Time, limit int64) (int, error)
}

// ErrEphemeralNotBoolean is returned when the ephemeral header is present
// but not a JSON boolean (spec §4.3 step 3).
var ErrEphemeralNotBoolean = errors.New("ephemeral header must be a JSON boolean")

type service struct {
	repository Repository
	accounts   account.Service
	publisher  Publisher
	config     core.Config
}

// NewService creates the mailbox service.
func NewService(repository Repository, accounts account.Service, publisher Publisher, config core.Config) Service {
	return &service{repository: repository, accounts: accounts, publisher: publisher, config: config}
}

func (s *service) Put(ctx context.Context, senderHash, recipientHash string, envelope []byte, rawEphemeral json.RawMessage, ttl time.Duration) (PutOutcome, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Service.Put")
	defer span.End()

	ephemeral, err := parseEphemeralHeader(rawEphemeral)
	if err != nil {
		span.RecordError(err)
		return PutOutcome{}, err
	}

	contentHash := contentHashOf(envelope)

	recipient, err := s.accounts.GetOrCreate(ctx, recipientHash)
	if err != nil {
		span.RecordError(err)
		return PutOutcome{}, err
	}

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	} else {
		expiresAt = now.Add(s.config.TTL.MessageExpiry)
	}

	if ephemeral {
		s.publisher.Publish(ctx, recipientHash, core.Event{
			DIDHash: recipientHash,
			Type:    "message",
			Payload: string(envelope),
		})
		return PutOutcome{Status: core.PutResultLiveOnly}, nil
	}

	sender, err := s.accounts.GetOrCreate(ctx, senderHash)
	if err != nil {
		span.RecordError(err)
		return PutOutcome{}, err
	}

	putCtx := withHardCap(ctx, QueueSend, sender.SendQueueLimit)
	putCtx = withHardCap(putCtx, QueueReceive, recipient.ReceiveQueueLimit)

	outcome, err := s.repository.Put(putCtx, core.Message{
		ContentHash:   contentHash,
		SenderHash:    senderHash,
		RecipientHash: recipientHash,
		Envelope:      envelope,
		Size:          int64(len(envelope)),
		ReceivedAt:    now,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		span.RecordError(err)
		return PutOutcome{}, err
	}

	if outcome.Status == core.PutResultStored {
		s.publisher.Publish(ctx, recipientHash, core.Event{
			DIDHash: recipientHash,
			Type:    "message",
			Payload: string(envelope),
		})
	}

	return outcome, nil
}

// parseEphemeralHeader enforces spec §4.3 step 3: absent means false;
// present non-boolean is a protocol error, never silently coerced.
func parseEphemeralHeader(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, ErrEphemeralNotBoolean
	}
	return v, nil
}

func contentHashOf(envelope []byte) string {
	sum := sha256.Sum256(envelope)
	return hex.EncodeToString(sum[:])
}

// List returns up to min(limit, 100) oldest messages, per the pickup
// contract's max_list cap.
func (s *service) List(ctx context.Context, didHash string, q Queue, cursor string, limit int64) ([]core.Message, string, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Service.List")
	defer span.End()

	if max := int64(s.config.Caps.MaxPickupList); limit <= 0 || limit > max {
		limit = max
	}

	messages, next, err := s.repository.List(ctx, didHash, q, cursor, limit)
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	return messages, next, nil
}

// Delete removes up to 100 content hashes per call, per the pickup
// contract.
func (s *service) Delete(ctx context.Context, didHash string, q Queue, contentHashes []string) (int, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Service.Delete")
	defer span.End()

	if max := s.config.Caps.MaxDeleteBatch; len(contentHashes) > max {
		contentHashes = contentHashes[:max]
	}

	removed := 0
	for _, hash := range contentHashes {
		ok, err := s.repository.Delete(ctx, didHash, q, hash)
		if err != nil {
			span.RecordError(err)
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *service) Stats(ctx context.Context, didHash string, q Queue) (core.QueueStats, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Service.Stats")
	defer span.End()

	return s.repository.Stats(ctx, didHash, q)
}

// SweepExpired pops entries whose expiry has passed off the repository's
// expires-at index and releases their storage one at a time, per spec §4.8.
func (s *service) SweepExpired(ctx context.Context, before time.Time, limit int64) (int, error) {
	ctx, span := tracer.Start(ctx, "Mailbox.Service.SweepExpired")
	defer span.End()

	entries, err := s.repository.ExpireBefore(ctx, before, limit)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		ok, err := s.repository.Delete(ctx, entry.DIDHash, entry.Queue, entry.ContentHash)
		if err != nil {
			span.RecordError(err)
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
