package dispatch

import (
	"context"
	"encoding/json"

	"github.com/affinidi/didcomm-mediator/x/didcomm"
)

// handleTrustPing implements spec §4.7's trust-ping note: respond with a
// plaintext pong thread-keyed to the ping id when response_requested is
// set, otherwise absorb silently.
func (d *Dispatcher) handleTrustPing(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	var body struct {
		ID                string `json:"id"`
		ResponseRequested bool   `json:"response_requested"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, err
	}
	if !body.ResponseRequested {
		return nil, nil
	}

	return &Response{
		Type:     TypeTrustPingResponse,
		Body:     pingResponseBody{},
		ThreadID: body.ID,
	}, nil
}
