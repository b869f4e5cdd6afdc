package envelope

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/acl"
	"github.com/affinidi/didcomm-mediator/x/account"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/forward"
	"github.com/affinidi/didcomm-mediator/x/mailbox"
	"github.com/affinidi/didcomm-mediator/x/problem"
)

// Dispatcher routes a message addressed to the mediator itself to its
// protocol handler (spec §4.7). Implemented by x/dispatch; kept as an
// interface here so envelope, the orchestrator, never has to import the
// handler-registration package's own dependencies.
type Dispatcher interface {
	Dispatch(ctx context.Context, senderHash string, msg didcomm.Envelope) error
}

// PeerResolver answers whether a DID's service endpoint is this mediator
// itself, for the loop-detection step, and records next-hop DIDs seen in
// forwarded traffic so their hash can later be resolved back to a service
// endpoint when the forward reactor actually dials out. Implemented by
// x/peer.
type PeerResolver interface {
	IsSelf(ctx context.Context, did string) bool
	Remember(ctx context.Context, did string) error
}

// Service runs the fixed-order envelope pipeline of spec §4.5.
type Service interface {
	Process(ctx context.Context, raw []byte, sessionDIDHash string) (Result, error)
}

type service struct {
	didcomm    didcomm.Service
	accounts   account.Service
	mailboxes  mailbox.Service
	forwards   forward.Service
	dispatcher Dispatcher
	peers      PeerResolver
	config     core.Config
}

// NewService wires the pipeline's collaborators.
func NewService(
	didcommSvc didcomm.Service,
	accounts account.Service,
	mailboxes mailbox.Service,
	forwards forward.Service,
	dispatcher Dispatcher,
	peers PeerResolver,
	config core.Config,
) Service {
	return &service{
		didcomm:    didcommSvc,
		accounts:   accounts,
		mailboxes:  mailboxes,
		forwards:   forwards,
		dispatcher: dispatcher,
		peers:      peers,
		config:     config,
	}
}

func (s *service) Process(ctx context.Context, raw []byte, sessionDIDHash string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Envelope.Service.Process")
	defer span.End()

	// Step 1: size & shape.
	if int64(len(raw)) > s.config.Caps.MaxEnvelopeBytes {
		return Result{}, problem.Wrap(problem.CodeMessageUnpack, "", "envelope exceeds the configured size limit")
	}

	// Step 2: outer unwrap.
	outer, err := s.didcomm.Unpack(ctx, raw)
	if err != nil {
		span.RecordError(err)
		return Result{}, problem.Wrap(problem.CodeMessageUnpack, "", "unable to decrypt or verify the outer envelope")
	}

	// Step 3: signing policy.
	if s.config.Policy.BlockAnonymousOuterEnvelope && outer.Anonymous {
		return Result{}, problem.Wrap(problem.CodeAnonymousOuterEnvelopeForbidden, "", "anonymous outer envelopes are not accepted")
	}

	senderHash := ""
	if outer.From != "" {
		senderHash = s.accounts.Hash(outer.From)
	}

	if s.config.Policy.ForceSessionDIDMatch && sessionDIDHash != "" && senderHash != sessionDIDHash {
		return Result{}, problem.Wrap(problem.CodeSessionMismatch, "", "outer signing DID does not match the bound session")
	}

	// Step 4: inner envelope / forward unwrap.
	if outer.Type == ForwardMessageType {
		return s.processForward(ctx, senderHash, outer)
	}

	// Direct message to the mediator itself (admin/protocol traffic).
	senderAccount, err := s.accounts.GetOrCreate(ctx, senderHash)
	if err != nil && senderHash != "" {
		span.RecordError(err)
		return Result{}, err
	}

	mediatorAccount, err := s.accounts.Get(ctx, s.accounts.MediatorDIDHash())
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	// Step 5: ACL check (local-delivery-to-mediator direction).
	if !acl.Permit(acl.Request{
		Action:           acl.ActionSendLocal,
		Anonymous:        outer.Anonymous,
		SubjectACL:       senderAccount.ACL,
		ObjectACL:        mediatorAccount.ACL,
		ObjectAccessList: mediatorAccount.AccessList,
		SubjectDIDHash:   senderHash,
		MediatorDIDHash:  s.accounts.MediatorDIDHash(),
	}) {
		return Result{}, problem.Wrap(problem.CodeAccessListDenied, "", "sender is not permitted to message this mediator")
	}

	// Step 6: dispatch (recipient is the mediator itself).
	if err := s.dispatcher.Dispatch(ctx, senderHash, *outer); err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	return Result{Outcome: OutcomeDispatchedInternally}, nil
}

func (s *service) processForward(ctx context.Context, senderHash string, outer *didcomm.Envelope) (Result, error) {
	ctx, span := tracer.Start(ctx, "Envelope.Service.ProcessForward")
	defer span.End()

	var fwd forwardMessage
	if err := json.Unmarshal(outer.Body, &fwd); err != nil || fwd.Body.Next == "" || len(fwd.Attachments) == 0 {
		return Result{}, problem.Wrap(problem.CodeMessageUnpack, "", "malformed forward envelope")
	}

	nextHash := s.accounts.Hash(fwd.Body.Next)
	attachment := fwd.Attachments[0].Data

	// Step 7: loop detection.
	if nextHash == s.accounts.MediatorDIDHash() {
		senderAccount, err := s.accounts.GetOrCreate(ctx, senderHash)
		if err != nil && senderHash != "" {
			span.RecordError(err)
			return Result{}, err
		}
		mediatorAccount, err := s.accounts.Get(ctx, s.accounts.MediatorDIDHash())
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		if !acl.Permit(acl.Request{
			Action:           acl.ActionSendLocal,
			Anonymous:        outer.Anonymous,
			SubjectACL:       senderAccount.ACL,
			ObjectACL:        mediatorAccount.ACL,
			ObjectAccessList: mediatorAccount.AccessList,
			SubjectDIDHash:   senderHash,
			MediatorDIDHash:  s.accounts.MediatorDIDHash(),
		}) {
			return Result{}, problem.Wrap(problem.CodeAccessListDenied, "", "sender is not permitted to message this mediator")
		}

		inner, err := s.didcomm.Unpack(ctx, attachment)
		if err != nil {
			span.RecordError(err)
			return Result{}, problem.Wrap(problem.CodeMessageUnpack, "", "unable to unpack the forwarded inner envelope")
		}
		if err := s.dispatcher.Dispatch(ctx, senderHash, *inner); err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		return Result{Outcome: OutcomeDispatchedInternally}, nil
	}

	if s.peers != nil && s.peers.IsSelf(ctx, fwd.Body.Next) {
		return Result{}, problem.Wrap(problem.CodeForwardingNextIsSelf, "", "next hop resolves to this mediator under a different DID")
	}

	senderAccount, err := s.accounts.GetOrCreate(ctx, senderHash)
	if err != nil && senderHash != "" {
		span.RecordError(err)
		return Result{}, err
	}

	recipientKnown := true
	recipientAccount, err := s.accounts.Get(ctx, nextHash)
	if err != nil {
		if _, ok := err.(core.ErrorNotFound); !ok {
			span.RecordError(err)
			return Result{}, err
		}
		recipientKnown = false
	}

	if recipientKnown && s.config.Policy.LocalDirectDeliveryAllowed && recipientAccount.ACL.Has(core.ACLDIDLocal) {
		if outer.Anonymous && !s.config.Policy.LocalDirectDeliveryAllowAnon {
			return Result{}, problem.Wrap(problem.CodeDirectDeliveryDenied, "", "anonymous direct delivery is disabled")
		}
		if !acl.Permit(acl.Request{
			Action:           acl.ActionSendLocal,
			Anonymous:        outer.Anonymous,
			SubjectACL:       senderAccount.ACL,
			ObjectACL:        recipientAccount.ACL,
			ObjectAccessList: recipientAccount.AccessList,
			SubjectDIDHash:   senderHash,
			MediatorDIDHash:  s.accounts.MediatorDIDHash(),
		}) {
			return Result{}, problem.Wrap(problem.CodeAccessListDenied, "", "recipient does not accept this sender")
		}

		outcome, err := s.mailboxes.Put(ctx, senderHash, nextHash, attachment, fwd.Ephemeral, s.config.TTL.MessageExpiry)
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, mailbox.ErrEphemeralNotBoolean) {
				return Result{}, problem.Wrap(problem.CodeEphemeralHeaderInvalid, "", err.Error())
			}
			return Result{}, err
		}
		if outcome.Status == core.PutResultRejected {
			return Result{}, problem.Wrap(problem.CodeQueueLimitRecipient, "", outcome.Reason)
		}
		if outcome.Status == core.PutResultLiveOnly {
			return Result{Outcome: OutcomeEphemeralDelivered}, nil
		}
		return Result{Outcome: OutcomeStoredLocal}, nil
	}

	// An unknown recipient lives at another mediator entirely; this
	// mediator's ACL store has no say over it, so the object side of the
	// check is left permissive.
	// ACLAccessListMode set (deny mode) with an empty list means "deny
	// nobody" — the correct no-op for a recipient this mediator has no
	// record of at all.
	objectACL := core.ACLMask(0).Set(core.ACLReceiveForwarded).Set(core.ACLAccessListMode)
	var objectAccessList []string
	if recipientKnown {
		objectACL = recipientAccount.ACL
		objectAccessList = recipientAccount.AccessList
	}
	if !acl.Permit(acl.Request{
		Action:           acl.ActionForwardNextHop,
		Anonymous:        outer.Anonymous,
		SubjectACL:       senderAccount.ACL,
		ObjectACL:        objectACL,
		ObjectAccessList: objectAccessList,
		SubjectDIDHash:   senderHash,
		MediatorDIDHash:  s.accounts.MediatorDIDHash(),
	}) {
		return Result{}, problem.Wrap(problem.CodeAccessListDenied, "", "sender is not permitted to forward messages")
	}

	if err := s.peers.Remember(ctx, fwd.Body.Next); err != nil {
		span.RecordError(err)
	}

	var delayMilli int64
	if fwd.DelayMilli != nil {
		delayMilli = *fwd.DelayMilli
	}

	if _, err := s.forwards.Schedule(ctx, nextHash, attachment, delayMilli, outer.Anonymous, senderHash, false); err != nil {
		span.RecordError(err)
		if _, ok := err.(core.ErrorRetryable); ok {
			return Result{}, problem.Wrap(problem.CodeForwardingQueueSaturated, "", "forward queue is at capacity")
		}
		return Result{}, err
	}

	return Result{Outcome: OutcomeForwarded}, nil
}
