package resolver

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDIDKeyRejectsOtherMethods(t *testing.T) {
	_, err := resolveDIDKey("did:web:example.com")
	assert.Error(t, err)
}

func TestEncodeThenResolveDIDKeyRoundTrips(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err)

	did := EncodeDIDKey(pub)
	assert.Contains(t, did, "did:key:z")

	doc, err := resolveDIDKey(did)
	assert.NoError(t, err)
	assert.Equal(t, did, doc.ID)
	assert.Len(t, doc.VerificationMethod, 1)
	assert.Len(t, doc.KeyAgreement, 1)

	key, err := decodeJWK(doc.VerificationMethod[0])
	assert.NoError(t, err)
	decodedPub, ok := key.Key.(ed25519.PublicKey)
	assert.True(t, ok)
	assert.Equal(t, pub, decodedPub)
}
