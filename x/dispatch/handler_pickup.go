package dispatch

import (
	"context"
	"encoding/json"

	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/mailbox"
	"github.com/affinidi/didcomm-mediator/x/problem"
)

const maxDeliveryBatch = 100

// requireReturnRouteAll enforces spec §6/§9's message-pickup hard error:
// every pickup-family message must carry the extra header
// "return_route": "all", missing or wrong is rejected outright, never
// silently defaulted.
func requireReturnRouteAll(msg didcomm.Envelope) error {
	value, present := msg.ExtraString("return_route")
	if !present {
		return problem.Wrap(problem.CodeReturnRouteRequired, "", "return_route header is missing")
	}
	if value != "all" {
		return problem.Wrap(problem.CodeReturnRouteRequired, "", "return_route header is incorrect, expected \"all\"", value)
	}
	return nil
}

func (d *Dispatcher) statusFor(ctx context.Context, didHash string) (*Response, error) {
	stats, err := d.mailboxes.Stats(ctx, didHash, mailbox.QueueReceive)
	if err != nil {
		return nil, err
	}
	return &Response{
		Type: TypePickupStatus,
		Body: pickupStatusBody{
			MessageCount: stats.Count,
			TotalBytes:   stats.Bytes,
		},
	}, nil
}

func (d *Dispatcher) handlePickupStatus(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	if err := requireReturnRouteAll(msg); err != nil {
		return nil, err
	}
	return d.statusFor(ctx, senderHash)
}

// handlePickupDelivery returns up to min(limit, 100) queued messages as
// attachments (spec §4.7). Attachment ids are the message content hashes,
// per spec §6 "clients must never pass raw server-assigned ids to pickup —
// only content-hashes".
func (d *Dispatcher) handlePickupDelivery(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	if err := requireReturnRouteAll(msg); err != nil {
		return nil, err
	}

	var body deliveryRequestBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, err
	}

	limit := body.Limit
	if limit <= 0 || limit > maxDeliveryBatch {
		limit = maxDeliveryBatch
	}

	messages, _, err := d.mailboxes.List(ctx, senderHash, mailbox.QueueReceive, "", limit)
	if err != nil {
		return nil, err
	}

	attachments := make([]deliveryAttachment, 0, len(messages))
	for _, m := range messages {
		attachments = append(attachments, deliveryAttachment{
			ID:   m.ContentHash,
			Data: json.RawMessage(m.Envelope),
		})
	}

	return &Response{
		Type: TypePickupDelivery,
		Body: deliveryBody{Attachments: attachments},
	}, nil
}

// handlePickupMessagesReceived deletes the acknowledged content hashes and
// returns a fresh status (spec §4.7).
func (d *Dispatcher) handlePickupMessagesReceived(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	if err := requireReturnRouteAll(msg); err != nil {
		return nil, err
	}

	var body messagesReceivedBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, err
	}

	if _, err := d.mailboxes.Delete(ctx, senderHash, mailbox.QueueReceive, body.MessageIDList); err != nil {
		return nil, err
	}

	return d.statusFor(ctx, senderHash)
}

func (d *Dispatcher) handlePickupLiveDeliveryChange(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	if err := requireReturnRouteAll(msg); err != nil {
		return nil, err
	}

	var body liveDeliveryChangeBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, err
	}

	if d.liveDelivery != nil {
		if err := d.liveDelivery.SetLiveDelivery(ctx, senderHash, body.LiveDelivery); err != nil {
			return nil, err
		}
	}

	return d.statusFor(ctx, senderHash)
}
