package socket

// liveFrame is the wire shape pushed down an open live-delivery
// connection, carrying whatever event x/mailbox published.
type liveFrame struct {
	Type    string `json:"type"`
	DIDHash string `json:"didHash"`
	Payload string `json:"payload"`
}
