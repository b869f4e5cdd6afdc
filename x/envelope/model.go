package envelope

import "encoding/json"

const ForwardMessageType = "https://didcomm.org/routing/2.0/forward"

// forwardBody is the routing/2.0 forward message's body: a next-hop DID
// plus the inner envelope destined for it. The attachment is relayed as is,
// except that the mediator unpacks it when next is the mediator's own DID,
// and the forward reactor tries to unpack it to spot admin traffic.
type forwardBody struct {
	Next string `json:"next"`
}

type forwardMessage struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Body        forwardBody     `json:"body"`
	Attachments []forwardAttach `json:"attachments"`
	Ephemeral   json.RawMessage `json:"ephemeral,omitempty"`
	// DelayMilli is the forward's own "delay_milli" extra header (spec §4.6),
	// not a body field — it rides beside body the same as Ephemeral does.
	// Negative selects a random delay; Service.Schedule does the clamping.
	DelayMilli *int64 `json:"delay_milli,omitempty"`
}

type forwardAttach struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Outcome records which of the pipeline's terminal actions fired (spec
// §4.5 step 6), for callers (REST/WebSocket handlers) that need to shape
// their response around it.
type Outcome int

const (
	OutcomeDispatchedInternally Outcome = iota
	OutcomeStoredLocal
	OutcomeForwarded
	OutcomeEphemeralDelivered
)

// Result is Process's successful return value.
type Result struct {
	Outcome Outcome
}
