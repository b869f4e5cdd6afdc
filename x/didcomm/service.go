package didcomm

import (
	"context"
	"encoding/json"
	"errors"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/affinidi/didcomm-mediator/core"
)

var (
	// ErrUnpackFailed covers any decrypt/verify failure (spec §7
	// "message-unpack").
	ErrUnpackFailed = errors.New("didcomm: unable to unpack envelope")
	ErrNoRecipients = errors.New("didcomm: at least one recipient is required")
)

// Service wraps the DIDComm v2 pack/unpack contract (spec §1: "envelope
// cryptography is delegated to the pack/unpack library"). Outer and inner
// envelopes are both packed/unpacked through the same entry points; the
// envelope processor in x/envelope decides which layer it is looking at.
type Service interface {
	// Pack encrypts body for recipientDIDs. When senderDID is empty the
	// envelope is packed anonymously (no sender authentication); otherwise
	// it is signed with the sender's verification key before encryption.
	Pack(ctx context.Context, body []byte, senderDID string, recipientDIDs []string) ([]byte, error)
	// Unpack decrypts raw and, if the plaintext is itself a JWS, verifies
	// the signature and reports the signing DID as From.
	Unpack(ctx context.Context, raw []byte) (*Envelope, error)
}

type service struct {
	resolver KeyResolver
	identity *Identity
}

// NewService builds the pack/unpack wrapper over the resolver's key cache.
// identity may be nil (the mediator never signs as itself, e.g. in tests
// that only unpack inbound envelopes); when set, Pack signs senderDID ==
// identity.DID directly from identity.Key instead of asking the resolver
// to resolve the mediator's own DID Document back to itself.
func NewService(resolver KeyResolver, identity *Identity) Service {
	return &service{resolver: resolver, identity: identity}
}

func (s *service) Pack(ctx context.Context, body []byte, senderDID string, recipientDIDs []string) ([]byte, error) {
	_, span := tracer.Start(ctx, "DIDComm.Service.Pack")
	defer span.End()

	if len(recipientDIDs) == 0 {
		return nil, ErrNoRecipients
	}

	plaintext := body
	if senderDID != "" {
		signed, err := s.sign(senderDID, body)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		plaintext = signed
	}

	opts := &jose.EncrypterOptions{}
	opts = opts.WithContentType("application/didcomm-encrypted+json")

	recipients := make([]jose.Recipient, 0, len(recipientDIDs))
	for _, did := range recipientDIDs {
		key, err := s.resolver.KeyAgreementKey(did)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		recipients = append(recipients, jose.Recipient{
			Algorithm: jose.ECDH_ES_A256KW,
			Key:       key.Key,
			KeyID:     key.KeyID,
		})
	}

	encrypter, err := jose.NewMultiEncrypter(jose.A256GCM, recipients, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	jwe, err := encrypter.Encrypt(plaintext)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return []byte(jwe.FullSerialize()), nil
}

func (s *service) sign(senderDID string, body []byte) ([]byte, error) {
	key, err := s.signingKeyFor(senderDID)
	if err != nil {
		return nil, err
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: key.Key}, nil)
	if err != nil {
		return nil, err
	}

	jws, err := signer.Sign(body)
	if err != nil {
		return nil, err
	}

	return []byte(jws.FullSerialize()), nil
}

// signingKeyFor returns the mediator's own key directly when it is signing
// its own outgoing envelope, else falls through to the resolver for every
// other sender DID it is ever asked to sign on behalf of (there are none in
// practice — the mediator only ever signs as itself — but the fallback
// keeps this method correct for any future caller that packs on behalf of a
// locally-held key).
func (s *service) signingKeyFor(senderDID string) (jose.JSONWebKey, error) {
	if s.identity != nil && s.identity.DID == senderDID {
		return s.identity.Key, nil
	}
	return s.resolver.VerificationKey(senderDID)
}

func (s *service) Unpack(ctx context.Context, raw []byte) (*Envelope, error) {
	_, span := tracer.Start(ctx, "DIDComm.Service.Unpack")
	defer span.End()

	jwe, err := jose.ParseEncrypted(string(raw))
	if err != nil {
		span.RecordError(err)
		return nil, ErrUnpackFailed
	}

	recipientDID, key, err := s.findDecryptionKey(jwe)
	if err != nil {
		span.RecordError(err)
		return nil, ErrUnpackFailed
	}

	plaintext, err := jwe.Decrypt(key)
	if err != nil {
		span.RecordError(err)
		return nil, ErrUnpackFailed
	}

	env := &Envelope{To: []string{recipientDID}, Anonymous: true}

	if signed, signerDID, ok := s.tryVerify(plaintext); ok {
		env.From = signerDID
		env.Signed = true
		env.Anonymous = false
		env.Body = signed
	} else {
		env.Body = plaintext
	}

	var typed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(env.Body, &typed); err == nil {
		env.Type = typed.Type
	}

	var extra map[string]json.RawMessage
	if err := json.Unmarshal(env.Body, &extra); err == nil {
		env.Extra = extra
	}

	return env, nil
}

// findDecryptionKey looks up the JWE header's key ID through the resolver.
// Only that one key ID is tried; the per-recipient headers of a
// multi-recipient JWE are not searched.
func (s *service) findDecryptionKey(jwe *jose.JSONWebEncryption) (string, interface{}, error) {
	if jwe.Header.KeyID == "" {
		return "", nil, core.NewErrorNotFound()
	}
	key, err := s.resolver.KeyAgreementKey(jwe.Header.KeyID)
	if err != nil {
		return "", nil, err
	}
	return jwe.Header.KeyID, key.Key, nil
}

func (s *service) tryVerify(plaintext []byte) ([]byte, string, bool) {
	jws, err := jose.ParseSigned(string(plaintext))
	if err != nil {
		return nil, "", false
	}
	if len(jws.Signatures) == 0 {
		return nil, "", false
	}
	kid := jws.Signatures[0].Header.KeyID
	key, err := s.resolver.VerificationKey(kid)
	if err != nil {
		return nil, "", false
	}
	payload, err := jws.Verify(key.Key)
	if err != nil {
		return nil, "", false
	}
	return payload, kid, true
}
