package core

import "time"

// Account is the persistent record keyed by DID hash (spec §3 "Account").
type Account struct {
	DIDHash           string      `json:"didHash"`
	Type              AccountType `json:"type"`
	ACL               ACLMask     `json:"acl"`
	AccessList        []string    `json:"accessList"`
	SendQueueLimit    int64       `json:"sendQueueLimit"`    // 0 == unset (use default), -1 == unlimited
	ReceiveQueueLimit int64       `json:"receiveQueueLimit"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// Message is the immutable tuple of spec §3 "Message record".
type Message struct {
	ContentHash   string    `json:"contentHash"`
	SenderHash    string    `json:"senderHash"`
	RecipientHash string    `json:"recipientHash"`
	Envelope      []byte    `json:"envelope"`
	Size          int64     `json:"size"`
	ReceivedAt    time.Time `json:"receivedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Ephemeral     bool      `json:"ephemeral"`
}

// QueueStats is the mailbox's per-queue counter pair (spec §3 "Mailbox").
type QueueStats struct {
	Count int64 `json:"count"`
	Bytes int64 `json:"bytes"`
}

// Session is the transient per-connection record of spec §4.4.
type Session struct {
	ID           string       `json:"id"`
	DIDHash      string       `json:"didHash"`
	State        SessionState `json:"state"`
	Nonce        string       `json:"nonce"`
	AccessToken  string       `json:"accessToken,omitempty"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	Transport    Transport    `json:"transport"`
	CreatedAt    time.Time    `json:"createdAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	LiveDelivery bool         `json:"liveDelivery"`
}

// OOBInvitation is spec §3 "OOB invitation".
type OOBInvitation struct {
	ID          string    `json:"id"`
	InviterHash string    `json:"inviterHash"`
	Invitation  string    `json:"invitation"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ForwardTask is a pending outbound forward, spec §3 "Forward task" / §4.6.
type ForwardTask struct {
	ID           string    `json:"id" gorm:"primarykey"`
	NextHopHash  string    `json:"nextHopHash" gorm:"index"`
	Envelope     []byte    `json:"envelope"`
	DueAt        time.Time `json:"dueAt" gorm:"index"`
	Attempt      int       `json:"attempt"`
	Anonymous    bool      `json:"anonymous"`
	OriginHash   string    `json:"originHash"`
	SuppressFail bool      `json:"suppressFail"`
	Status       string    `json:"status" gorm:"index"` // pending | running | completed | failed
	LastError    string    `json:"lastError,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuditEntry records a single privileged write for the compliance trail
// (SPEC_FULL.md §3 "Audit log").
type AuditEntry struct {
	ID         uint `gorm:"primarykey"`
	ActorHash  string `gorm:"index"`
	Action     string
	Target     string
	Result     string
	DetailJSON string
	CreatedAt  time.Time `gorm:"index"`
}

// Event is published on the pub/sub bus: one channel per DID for
// live-delivery fan-out (spec §2 "Pub/sub bus").
type Event struct {
	DIDHash string `json:"didHash"`
	Type    string `json:"type"` // "message" | "delete" | "subscription"
	Payload string `json:"payload"`
}

// ProblemReport is a DIDComm report-problem 2.0 body (spec §7).
type ProblemReport struct {
	ID         string   `json:"@id"`
	Type       string   `json:"@type"`
	PTHID      string   `json:"pthid,omitempty"`
	Code       string   `json:"code"`
	Comment    string   `json:"comment,omitempty"`
	Args       []string `json:"args,omitempty"`
	EscalateTo string   `json:"escalate_to,omitempty"`
	Retryable  bool     `json:"-"`
}
