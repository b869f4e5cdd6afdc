// Package expiry periodically releases mailbox storage past its expiry and
// prunes accounts that were auto-created by a single transient send and
// never touched again (spec §4.8).
package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/account"
	"github.com/affinidi/didcomm-mediator/x/mailbox"
)

type Reactor interface {
	Start(ctx context.Context)
}

type reactor struct {
	mailboxes mailbox.Service
	accounts  account.Service
	config    core.Config
}

func NewReactor(mailboxes mailbox.Service, accounts account.Service, config core.Config) Reactor {
	return &reactor{mailboxes: mailboxes, accounts: accounts, config: config}
}

func (r *reactor) Start(ctx context.Context) {
	slog.InfoContext(ctx, "expiry reactor start")

	interval := r.config.Expiry.SweepInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)

	go func() {
		for range ticker.C {
			sweepCtx, span := tracer.Start(ctx, "Expiry.Reactor.Sweep")
			r.sweep(sweepCtx)
			span.End()
		}
	}()
}

func (r *reactor) sweep(ctx context.Context) {
	removed, err := r.sweepMessages(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "expiry sweep failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		slog.InfoContext(ctx, "expiry sweep released messages", slog.Int("count", removed))
	}

	pruned, err := r.sweepEmptyAccounts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "expiry account prune failed", slog.String("error", err.Error()))
	} else if pruned > 0 {
		slog.InfoContext(ctx, "expiry sweep pruned transient accounts", slog.Int("count", pruned))
	}
}

// sweepMessages drains the expires-at index in SweepBatchSize-sized chunks
// until a chunk comes back short, meaning nothing due remains.
func (r *reactor) sweepMessages(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Expiry.Reactor.SweepMessages")
	defer span.End()

	batch := r.config.Expiry.SweepBatchSize
	if batch <= 0 {
		batch = 500
	}

	total := 0
	for {
		removed, err := r.mailboxes.SweepExpired(ctx, time.Now(), batch)
		if err != nil {
			span.RecordError(err)
			return total, err
		}
		total += removed
		if int64(removed) < batch {
			return total, nil
		}
	}
}

// sweepEmptyAccounts removes Standard accounts that still carry whatever
// ACL and queue limits GetOrCreate handed them at birth, hold nothing in
// either mailbox queue, and were never the target of an ACL or
// queue-limit write — the signature of an account that exists only
// because one transient send once touched it.
func (r *reactor) sweepEmptyAccounts(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Expiry.Reactor.SweepEmptyAccounts")
	defer span.End()

	defaultACL := r.defaultACL()

	pruned := 0
	cursor := ""
	for {
		accounts, next, err := r.accounts.List(ctx, cursor, 100)
		if err != nil {
			span.RecordError(err)
			return pruned, err
		}

		for _, a := range accounts {
			if !r.isTransient(a, defaultACL) {
				continue
			}

			empty, err := r.isEmpty(ctx, a.DIDHash)
			if err != nil {
				span.RecordError(err)
				return pruned, err
			}
			if !empty {
				continue
			}

			if err := r.accounts.Remove(ctx, a.DIDHash); err != nil {
				if _, ok := err.(core.ErrorProtected); ok {
					continue
				}
				span.RecordError(err)
				return pruned, err
			}
			pruned++
		}

		// The account repository's scan cursor comes back as "0" once the
		// whole keyspace has been visited.
		if next == "" || next == "0" {
			return pruned, nil
		}
		cursor = next
	}
}

func (r *reactor) isTransient(a core.Account, defaultACL core.ACLMask) bool {
	if a.Type != core.AccountTypeStandard {
		return false
	}
	if a.ACL != defaultACL {
		return false
	}
	if len(a.AccessList) != 0 {
		return false
	}
	if a.SendQueueLimit != r.config.Queue.SendSoft || a.ReceiveQueueLimit != r.config.Queue.ReceiveSoft {
		return false
	}
	return true
}

func (r *reactor) isEmpty(ctx context.Context, didHash string) (bool, error) {
	send, err := r.mailboxes.Stats(ctx, didHash, mailbox.QueueSend)
	if err != nil {
		return false, err
	}
	if send.Count > 0 {
		return false, nil
	}

	recv, err := r.mailboxes.Stats(ctx, didHash, mailbox.QueueReceive)
	if err != nil {
		return false, err
	}
	return recv.Count == 0, nil
}

func (r *reactor) defaultACL() core.ACLMask {
	mask, _ := core.ResolveACLRule(r.config.ACL.GlobalDefaultACL)
	if r.config.ACL.Mode == core.ACLModeNameExplicitDeny {
		mask = mask.Set(core.ACLAccessListMode)
	}
	return mask
}
