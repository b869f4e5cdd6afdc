package dispatch

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/account"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/mailbox"
	"github.com/affinidi/didcomm-mediator/x/session"
)

// Handler answers one inbound message addressed to the mediator itself.
// A nil *Response means "silently absorb" (spec §4.7 trust-ping note).
type Handler func(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error)

// LiveDeliveryController toggles a session's live-delivery flag for the
// message-pickup live-delivery-change message. Implemented by x/socket;
// kept as an interface so dispatch never imports the connection manager.
type LiveDeliveryController interface {
	SetLiveDelivery(ctx context.Context, didHash string, enabled bool) error
}

// AuditRecorder appends a durable record of a privileged write. Implemented
// by x/audit.
type AuditRecorder interface {
	Record(ctx context.Context, actorHash, action, targetHash, result string) error
}

// Dispatcher is the map[type URI]Handler of spec §4.7, implementing
// x/envelope's Dispatcher interface.
type Dispatcher struct {
	handlers     map[string]Handler
	didcomm      didcomm.Service
	accounts     account.Service
	mailboxes    mailbox.Service
	liveDelivery LiveDeliveryController
	audit        AuditRecorder
	sessions     session.Service
	config       core.Config
	mediatorDID  string
}

// NewDispatcher builds the dispatcher and registers every handler named in
// spec §4.7. liveDelivery and audit may be nil (no-op) until x/socket and
// x/audit are wired in by cmd/mediator. sessions is required: Round 2 of
// spec §4.4 arrives as an ordinary inbound DIDComm message addressed to the
// mediator, dispatched here like any other protocol message rather than
// intercepted by the REST layer, since by the time it reaches Dispatch it
// has already been decrypted and signature-verified like everything else.
func NewDispatcher(
	didcommSvc didcomm.Service,
	accounts account.Service,
	mailboxes mailbox.Service,
	liveDelivery LiveDeliveryController,
	audit AuditRecorder,
	sessions session.Service,
	config core.Config,
	mediatorDID string,
) *Dispatcher {
	d := &Dispatcher{
		didcomm:      didcommSvc,
		accounts:     accounts,
		mailboxes:    mailboxes,
		liveDelivery: liveDelivery,
		audit:        audit,
		sessions:     sessions,
		config:       config,
		mediatorDID:  mediatorDID,
	}
	d.handlers = map[string]Handler{
		TypeTrustPing:                d.handleTrustPing,
		TypePickupStatusRequest:      d.handlePickupStatus,
		TypePickupDeliveryRequest:    d.handlePickupDelivery,
		TypePickupMessagesReceived:   d.handlePickupMessagesReceived,
		TypePickupLiveDeliveryChange: d.handlePickupLiveDeliveryChange,
		ACLManagementType(config):    d.handleACLManagement,
		AccountManagementType:        d.handleAccountManagement,
		AdminManagementType:          d.handleAdminManagement,
		TypeAuthChallengeResponse:    d.handleChallengeResponse,
		TypeDiscoverFeaturesQuery:    d.handleDiscoverFeatures,
	}
	return d
}

// ACLManagementType returns the configured ACL-management request type URI,
// or the spec default when the deployment has not overridden it.
func ACLManagementType(config core.Config) string {
	if config.Policy.ACLManagementRequestType != "" {
		return config.Policy.ACLManagementRequestType
	}
	return "https://didcomm.org/mediator-acl/1.0/acl-management"
}

// Dispatch implements envelope.Dispatcher. It looks up msg.Type, invokes
// the matching handler, and — if the handler produced a response — packs
// and enqueues it back to the sender through the same mailbox path any
// other message takes (spec §4.7: "handlers ... never touch the key-value
// store directly").
func (d *Dispatcher) Dispatch(ctx context.Context, senderHash string, msg didcomm.Envelope) error {
	ctx, span := tracer.Start(ctx, "Dispatch.Dispatcher.Dispatch")
	defer span.End()

	handler, ok := d.handlers[msg.Type]
	if !ok {
		return core.NewErrorNotFound()
	}

	resp, err := handler(ctx, senderHash, msg)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if resp == nil {
		return nil
	}
	if msg.From == "" {
		// No authenticated sender DID to pack a response for (anonymous
		// inbound message to a handler that tried to reply).
		return nil
	}

	return d.deliver(ctx, senderHash, msg.From, *resp)
}

func (d *Dispatcher) deliver(ctx context.Context, senderHash, senderDID string, resp Response) error {
	body := struct {
		ID      string      `json:"id"`
		Type    string      `json:"type"`
		ThID    string      `json:"thid,omitempty"`
		Body    interface{} `json:"body"`
	}{
		ID:   uuid.NewString(),
		Type: resp.Type,
		ThID: resp.ThreadID,
		Body: resp.Body,
	}

	plaintext, err := json.Marshal(body)
	if err != nil {
		return err
	}

	packed, err := d.didcomm.Pack(ctx, plaintext, d.mediatorDID, []string{senderDID})
	if err != nil {
		return err
	}

	mediatorHash := d.accounts.MediatorDIDHash()
	_, err = d.mailboxes.Put(ctx, mediatorHash, senderHash, packed, nil, d.config.TTL.AdminMessages)
	return err
}
