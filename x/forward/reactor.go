package forward

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/dispatch"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
)

// Sender delivers a forward envelope to the next-hop service endpoint
// resolved for NextHopHash. Implemented by x/peer over plain HTTP.
type Sender interface {
	Send(ctx context.Context, nextHopHash string, envelope []byte) error
}

// Unpacker is the one method the reactor needs off x/didcomm.Service to
// support block_remote_admin_msgs (spec §4.6): a best-effort look at a
// queued attachment's own message type. Implemented by x/didcomm; narrowed
// here the same way x/envelope narrows it down to Dispatcher/PeerResolver.
type Unpacker interface {
	Unpack(ctx context.Context, raw []byte) (*didcomm.Envelope, error)
}

// ProblemReporter notifies the origin sender of a permanently failed
// forward (spec §7), unless suppressed by policy or the task itself.
type ProblemReporter interface {
	ReportForwardFailure(ctx context.Context, originHash string, lastError string) error
}

// Reactor is the background worker pool that drains the forward work
// queue (spec §4.6).
type Reactor interface {
	Start(ctx context.Context)
}

type reactor struct {
	repository Repository
	sender     Sender
	problems   ProblemReporter
	unpacker   Unpacker
	config     core.Config
	workers    int
}

// NewReactor builds the forward dispatch reactor. workers bounds the
// number of concurrent in-flight deliveries. unpacker may be nil, in which
// case block_remote_admin_msgs never fires (there is no way to inspect a
// queued attachment's type without it).
func NewReactor(repository Repository, sender Sender, problems ProblemReporter, unpacker Unpacker, config core.Config, workers int) Reactor {
	if workers <= 0 {
		workers = 4
	}
	return &reactor{repository: repository, sender: sender, problems: problems, unpacker: unpacker, config: config, workers: workers}
}

func (r *reactor) Start(ctx context.Context) {
	slog.InfoContext(ctx, "forward reactor start", slog.Int("workers", r.workers))

	ticker := time.NewTicker(time.Second)
	for i := 0; i < r.workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.dispatchOne(ctx)
				}
			}
		}()
	}
}

func (r *reactor) dispatchOne(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Forward.Reactor.DispatchOne")
	defer span.End()

	task, err := r.repository.Dequeue(ctx)
	if err != nil {
		return
	}

	if r.config.Policy.BlockRemoteAdminMsgs && r.isAdminMessage(ctx, task.Envelope) {
		r.fail(ctx, *task, "admin-management messages must not be forwarded through another mediator")
		return
	}

	err = r.sender.Send(ctx, task.NextHopHash, task.Envelope)
	if err == nil {
		if cerr := r.repository.Complete(ctx, task.ID); cerr != nil {
			span.RecordError(cerr)
		}
		return
	}

	span.RecordError(err)

	if !isTransient(err) || task.Attempt >= maxAttempts {
		r.fail(ctx, *task, err.Error())
		return
	}

	nextDue := time.Now().Add(backoffDelay(task.Attempt))
	if rerr := r.repository.Reschedule(ctx, task.ID, nextDue, err.Error()); rerr != nil {
		span.RecordError(rerr)
	}
}

func (r *reactor) fail(ctx context.Context, task core.ForwardTask, lastError string) {
	ctx, span := tracer.Start(ctx, "Forward.Reactor.Fail")
	defer span.End()

	if _, err := r.repository.Fail(ctx, task.ID, lastError); err != nil {
		span.RecordError(err)
	}

	if task.SuppressFail || r.config.Policy.SuppressForwardFailureNotice || task.OriginHash == "" {
		return
	}
	if r.problems == nil {
		return
	}
	if err := r.problems.ReportForwardFailure(ctx, task.OriginHash, lastError); err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "failed to report forward failure", slog.String("error", err.Error()))
	}
}

// isAdminMessage inspects a queued attachment's own type against the
// admin-management protocol family (spec §4.6 "admin messages must not be
// forwarded through another mediator"). The attachment is usually opaque —
// it is end-to-end encrypted to the next hop's own key, one this mediator
// does not hold — in which case Unpack fails and the message is treated as
// not an admin message, the same conservative default the original
// implementation applies to anything it cannot inspect.
func (r *reactor) isAdminMessage(ctx context.Context, envelope []byte) bool {
	if r.unpacker == nil {
		return false
	}
	env, err := r.unpacker.Unpack(ctx, envelope)
	if err != nil {
		return false
	}
	switch env.Type {
	case dispatch.AccountManagementType, dispatch.AdminManagementType, dispatch.ACLManagementType(r.config):
		return true
	default:
		return false
	}
}

const maxAttempts = 8

// backoffDelay applies an exponential backoff capped by backoff/v4's
// default max interval, keyed off the task's attempt count rather than a
// stateful backoff instance since attempts persist across reactor restarts.
func backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	delay := b.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay > b.MaxInterval {
			return b.MaxInterval
		}
	}
	return delay
}

func isTransient(err error) bool {
	var retryable core.ErrorRetryable
	return errors.As(err, &retryable)
}
