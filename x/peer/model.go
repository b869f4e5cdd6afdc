package peer

import "time"

// Record is a known mediator peer: a DID this mediator has seen as a
// forward next-hop, together with its resolved DIDCommMessaging service
// endpoint.
type Record struct {
	DIDHash    string    `json:"didHash" gorm:"primaryKey;type:text"`
	DID        string    `json:"did" gorm:"type:text"`
	Endpoint   string    `json:"endpoint" gorm:"type:text"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
