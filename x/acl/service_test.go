package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/affinidi/didcomm-mediator/core"
)

func TestPermitBlockedSubject(t *testing.T) {
	req := Request{
		Action:     ActionSendLocal,
		SubjectACL: core.ACLDIDBlocked | core.ACLSendMessages,
		ObjectACL:  core.ACLReceiveMessages,
	}
	assert.False(t, Permit(req))
}

func TestPermitSendLocalRequiresBothSides(t *testing.T) {
	base := Request{Action: ActionSendLocal, SubjectACL: core.ACLSendMessages, ObjectACL: 0}
	assert.False(t, Permit(base))

	base.ObjectACL = core.ACLReceiveMessages
	assert.True(t, Permit(base))
}

func TestPermitAnonRequiresAnonReceive(t *testing.T) {
	req := Request{
		Action:     ActionSendLocal,
		Anonymous:  true,
		SubjectACL: core.ACLSendMessages,
		ObjectACL:  core.ACLReceiveMessages,
	}
	assert.False(t, Permit(req))

	req.ObjectACL |= core.ACLAnonReceive
	assert.True(t, Permit(req))
}

func TestPermitAccessListDenyMode(t *testing.T) {
	req := Request{
		Action:           ActionSendLocal,
		SubjectACL:       core.ACLSendMessages,
		ObjectACL:        core.ACLReceiveMessages | core.ACLAccessListMode,
		ObjectAccessList: []string{"alice"},
		SubjectDIDHash:   "alice",
	}
	assert.False(t, Permit(req))

	req.SubjectDIDHash = "bob"
	assert.True(t, Permit(req))
}

func TestPermitAccessListAllowMode(t *testing.T) {
	req := Request{
		Action:           ActionSendLocal,
		SubjectACL:       core.ACLSendMessages,
		ObjectACL:        core.ACLReceiveMessages,
		ObjectAccessList: []string{"alice"},
		SubjectDIDHash:   "bob",
	}
	assert.False(t, Permit(req))

	req.SubjectDIDHash = "alice"
	assert.True(t, Permit(req))
}

func TestPermitMediatorAlwaysAllowedThroughAccessList(t *testing.T) {
	req := Request{
		Action:           ActionSendLocal,
		SubjectACL:       core.ACLSendMessages,
		ObjectACL:        core.ACLReceiveMessages,
		ObjectAccessList: []string{},
		SubjectDIDHash:   "mediator",
		MediatorDIDHash:  "mediator",
	}
	assert.True(t, Permit(req))
}

func TestWriteAllowed(t *testing.T) {
	owner := core.ACLMask(0).Set(core.ACLSendMessagesSelfChange)
	assert.True(t, WriteAllowed(ActorOwner, owner, core.ACLSendMessages))
	assert.False(t, WriteAllowed(ActorOwner, owner, core.ACLReceiveMessages))
	assert.False(t, WriteAllowed(ActorOwner, owner, core.ACLSelfManageList))
	assert.True(t, WriteAllowed(ActorAdmin, owner, core.ACLReceiveMessages))
}

func TestACLMaskHexRoundTrip(t *testing.T) {
	m := core.ACLSendMessages | core.ACLReceiveForwarded
	hexStr := m.Hex()
	decoded, err := core.ParseACLHex(hexStr)
	assert.NoError(t, err)
	assert.Equal(t, m, decoded)
	assert.Equal(t, m.Expand(), decoded.Expand())
}
