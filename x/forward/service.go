package forward

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/affinidi/didcomm-mediator/core"
)

// Service is the forwarding work queue's business layer (spec §4.6).
type Service interface {
	// Schedule enqueues an outbound forward, clamping delayMilli to the
	// configured horizon. A negative delayMilli selects a uniform-random
	// non-negative delay instead of an explicit one.
	Schedule(ctx context.Context, nextHopHash string, envelope []byte, delayMilli int64, anonymous bool, originHash string, suppressFail bool) (core.ForwardTask, error)
	PendingCount(ctx context.Context) (int64, error)
}

type service struct {
	repository Repository
	config     core.Config
}

// NewService builds the forward scheduling service.
func NewService(repository Repository, config core.Config) Service {
	return &service{repository: repository, config: config}
}

func (s *service) Schedule(ctx context.Context, nextHopHash string, envelope []byte, delayMilli int64, anonymous bool, originHash string, suppressFail bool) (core.ForwardTask, error) {
	ctx, span := tracer.Start(ctx, "Forward.Service.Schedule")
	defer span.End()

	pending, err := s.repository.PendingCount(ctx)
	if err != nil {
		span.RecordError(err)
		return core.ForwardTask{}, err
	}
	if pending >= s.config.Queue.ForwardCapacity {
		return core.ForwardTask{}, core.NewErrorRetryable(core.ErrQueueFull{})
	}

	horizon := s.config.TTL.ForwardHorizon
	var delay time.Duration
	switch {
	case delayMilli < 0:
		delay = time.Duration(rand.Int63n(int64(horizon)))
	default:
		delay = time.Duration(delayMilli) * time.Millisecond
		if delay > horizon {
			delay = horizon
		}
	}

	task := core.ForwardTask{
		ID:           uuid.NewString(),
		NextHopHash:  nextHopHash,
		Envelope:     envelope,
		DueAt:        time.Now().Add(delay),
		Anonymous:    anonymous,
		OriginHash:   originHash,
		SuppressFail: suppressFail,
	}

	return s.repository.Enqueue(ctx, task)
}

func (s *service) PendingCount(ctx context.Context) (int64, error) {
	return s.repository.PendingCount(ctx)
}
