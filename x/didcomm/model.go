package didcomm

import (
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v3"
)

// Envelope is an unpacked DIDComm message (spec §4.5 step 2/4): either the
// outer transport-hop wrapper or, after a forward is unwrapped, the inner
// recipient-targeted message.
type Envelope struct {
	From      string // DID, empty when the envelope was anonymously encrypted
	To        []string
	Type      string
	Body      []byte
	Anonymous bool
	Signed    bool
	// Extra holds the message's own top-level fields the DIDComm envelope
	// spec calls "extra headers" (return_route, delay_milli, and any other
	// protocol-specific field living beside id/type/to/from/body), keyed by
	// field name. They are not nested under "body" — they ride alongside it
	// in the same plaintext object — so Unpack captures them separately
	// rather than requiring every handler to re-parse the whole blob.
	Extra map[string]json.RawMessage
}

// ExtraString reads a string-valued extra header, reporting whether it was
// present at all (a header present but not a JSON string still reports
// present, with an empty value, so callers can tell "missing" from "wrong
// type").
func (e *Envelope) ExtraString(name string) (value string, present bool) {
	raw, ok := e.Extra[name]
	if !ok {
		return "", false
	}
	_ = json.Unmarshal(raw, &value)
	return value, true
}

// KeyResolver looks up the key material needed to pack or unpack an
// envelope for a given DID. Implemented by x/resolver; kept as an
// interface here so x/didcomm never imports the resolver cache directly.
type KeyResolver interface {
	KeyAgreementKey(did string) (jose.JSONWebKey, error)
	VerificationKey(did string) (jose.JSONWebKey, error)
}

// Identity holds the mediator's own signing key. The resolver only ever
// hands back public key material pulled from a resolved DID Document, which
// is no use when the mediator itself is the signer of an outgoing envelope
// (dispatcher responses, forwarded relays) — Identity is the explicit second
// path for that one DID, kept out of KeyResolver so the resolver never has
// to reason about private material.
type Identity struct {
	DID string
	Key jose.JSONWebKey
}

// NewIdentity parses the mediator's private signing key from its JWK form
// (spec §6 "Mediator.PrivateKeyJWK"), an Ed25519 OKP key with a "d"
// component, the same encoding go-jose already round-trips for every other
// key in this package.
func NewIdentity(did string, privateKeyJWK string) (*Identity, error) {
	var key jose.JSONWebKey
	if err := json.Unmarshal([]byte(privateKeyJWK), &key); err != nil {
		return nil, fmt.Errorf("didcomm: invalid mediator private key JWK: %w", err)
	}
	if key.IsPublic() {
		return nil, fmt.Errorf("didcomm: mediator private key JWK %s does not carry private key material", key.KeyID)
	}
	return &Identity{DID: did, Key: key}, nil
}
