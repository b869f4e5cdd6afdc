package resolver

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
)

// did:key multicodec prefixes (https://github.com/multiformats/multicodec),
// varint-encoded as their first two bytes.
var (
	multicodecEd25519Pub = []byte{0xed, 0x01}
	multicodecX25519Pub  = []byte{0xec, 0x01}
)

// resolveDIDKey decodes a self-certifying did:key identifier into a
// Document with a single verification method that doubles as its own
// key-agreement entry, per the did:key method spec. The mediator never
// needs a network round-trip for these, unlike did:web.
func resolveDIDKey(did string) (*Document, error) {
	const prefix = "did:key:"
	if !strings.HasPrefix(did, prefix) {
		return nil, fmt.Errorf("resolver: not a did:key identifier: %s", did)
	}

	_, data, err := multibase.Decode(strings.TrimPrefix(did, prefix))
	if err != nil {
		return nil, fmt.Errorf("resolver: invalid multibase encoding: %w", err)
	}

	if len(data) < 2 {
		return nil, fmt.Errorf("resolver: truncated did:key key material")
	}

	vmID := did + "#" + strings.TrimPrefix(did, prefix)

	return &Document{
		ID: did,
		VerificationMethod: []VerificationMethod{{
			ID:                 vmID,
			Type:               "Ed25519VerificationKey2020",
			Controller:         did,
			PublicKeyMultibase: strings.TrimPrefix(did, prefix),
		}},
		Authentication: []string{vmID},
		KeyAgreement:   []string{vmID},
	}, nil
}

// decodeJWK turns a verificationMethod's multibase-encoded public key into
// a jose.JSONWebKey usable directly by x/didcomm's Pack/Unpack.
func decodeJWK(vm VerificationMethod) (jose.JSONWebKey, error) {
	_, data, err := multibase.Decode(vm.PublicKeyMultibase)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("resolver: invalid multibase encoding: %w", err)
	}

	raw, keyType := stripMulticodecPrefix(data)

	var key interface{}
	switch keyType {
	case "ed25519":
		if len(raw) != ed25519.PublicKeySize {
			return jose.JSONWebKey{}, fmt.Errorf("resolver: malformed ed25519 key")
		}
		key = ed25519.PublicKey(raw)
	case "x25519":
		key = raw // consumed as a raw 32-byte X25519 public key by the encrypter
	default:
		return jose.JSONWebKey{}, fmt.Errorf("resolver: unsupported key type")
	}

	return jose.JSONWebKey{Key: key, KeyID: vm.ID}, nil
}

// EncodeDIDKey builds a did:key identifier for the mediator's own
// ed25519 signing key, mirroring the base58btc multibase encoding
// (leading "z") used across the did:key method.
func EncodeDIDKey(pub ed25519.PublicKey) string {
	prefixed := append(append([]byte{}, multicodecEd25519Pub...), pub...)
	return "did:key:z" + base58.Encode(prefixed)
}

func stripMulticodecPrefix(data []byte) ([]byte, string) {
	if len(data) > 2 && data[0] == multicodecEd25519Pub[0] && data[1] == multicodecEd25519Pub[1] {
		return data[2:], "ed25519"
	}
	if len(data) > 2 && data[0] == multicodecX25519Pub[0] && data[1] == multicodecX25519Pub[1] {
		return data[2:], "x25519"
	}
	return data, "ed25519"
}
