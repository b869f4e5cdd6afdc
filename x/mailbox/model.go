// Package mailbox implements the per-DID send/receive queue pair of spec
// §4.3: soft/hard caps, content-hash dedupe, ordered pickup, and TTL expiry.
package mailbox

import "github.com/affinidi/didcomm-mediator/core"

// Queue distinguishes the two per-account collections of spec §3 "Mailbox".
type Queue string

const (
	QueueSend    Queue = "send"
	QueueReceive Queue = "recv"
)

// PutOutcome is the outcome of Put, spec §4.3 "Insert contract".
type PutOutcome struct {
	Status core.PutResult
	Reason string
}
