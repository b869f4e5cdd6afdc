package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ACLMask is the 64-bit little-endian permission bitmask of spec §3/§4.1.
// Bit layout is normative; see the table in spec §4.1.
type ACLMask uint64

const (
	ACLAccessListMode             ACLMask = 1 << 0 // 0 = allow, 1 = deny
	ACLAccessListModeSelfChange   ACLMask = 1 << 1
	ACLDIDBlocked                 ACLMask = 1 << 2
	ACLDIDLocal                   ACLMask = 1 << 3
	ACLSendMessages               ACLMask = 1 << 4
	ACLSendMessagesSelfChange     ACLMask = 1 << 5
	ACLReceiveMessages            ACLMask = 1 << 6
	ACLReceiveMessagesSelfChange  ACLMask = 1 << 7
	ACLSendForwarded              ACLMask = 1 << 8
	ACLSendForwardedSelfChange    ACLMask = 1 << 9
	ACLReceiveForwarded           ACLMask = 1 << 10
	ACLReceiveForwardedSelfChange ACLMask = 1 << 11
	ACLCreateInvites              ACLMask = 1 << 12
	ACLCreateInvitesSelfChange    ACLMask = 1 << 13
	ACLAnonReceive                ACLMask = 1 << 14
	ACLAnonReceiveSelfChange      ACLMask = 1 << 15
	ACLSelfManageList             ACLMask = 1 << 16
	ACLSelfManageSendQueueLimit   ACLMask = 1 << 17
	ACLSelfManageReceiveQueueLimit ACLMask = 1 << 18
)

// selfChangeOf maps an action bit to its paired self-change bit, per the
// table in spec §4.1. Bits with no paired self-change bit are absent.
var selfChangeOf = map[ACLMask]ACLMask{
	ACLAccessListMode:   ACLAccessListModeSelfChange,
	ACLSendMessages:     ACLSendMessagesSelfChange,
	ACLReceiveMessages:  ACLReceiveMessagesSelfChange,
	ACLSendForwarded:    ACLSendForwardedSelfChange,
	ACLReceiveForwarded: ACLReceiveForwardedSelfChange,
	ACLCreateInvites:    ACLCreateInvitesSelfChange,
	ACLAnonReceive:      ACLAnonReceiveSelfChange,
}

// protectedFromSelfChange are bits an owner can never flip even via their
// own self-change bit (spec §4.1 rule 5, "cannot self-disable self-manage-list").
var protectedFromSelfChange = []ACLMask{
	ACLSelfManageList,
	ACLSelfManageSendQueueLimit,
	ACLSelfManageReceiveQueueLimit,
	ACLDIDBlocked,
	ACLDIDLocal,
}

func (m ACLMask) Has(bit ACLMask) bool { return m&bit != 0 }

func (m ACLMask) Set(bit ACLMask) ACLMask { return m | bit }

func (m ACLMask) Clear(bit ACLMask) ACLMask { return m &^ bit }

func (m ACLMask) With(bit ACLMask, value bool) ACLMask {
	if value {
		return m.Set(bit)
	}
	return m.Clear(bit)
}

// SelfChangeAllows reports whether the owner's own mask permits them to
// self-change the given action bit.
func (m ACLMask) SelfChangeAllows(bit ACLMask) bool {
	sc, ok := selfChangeOf[bit]
	if !ok {
		return false
	}
	return m.Has(sc)
}

// IsProtectedFromSelfChange reports whether bit can never be self-changed,
// regardless of the owner's self-change bits.
func IsProtectedFromSelfChange(bit ACLMask) bool {
	for _, p := range protectedFromSelfChange {
		if p == bit {
			return true
		}
	}
	return false
}

// Hex renders the mask as the lowercase 16-hex-digit little-endian wire
// format used by the ACL expansion response (spec §6).
func (m ACLMask) Hex() string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(m))
	return hex.EncodeToString(buf[:])
}

// ParseACLHex decodes the 16-hex-digit little-endian wire format back into
// an ACLMask.
func ParseACLHex(s string) (ACLMask, error) {
	buf, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(buf) != 8 {
		return 0, fmt.Errorf("acl hex must decode to 8 bytes, got %d", len(buf))
	}
	return ACLMask(binary.LittleEndian.Uint64(buf)), nil
}

// ACLExpansion is the named-flag expansion of a mask, used by the ACL
// management protocol's expand response (spec §6).
type ACLExpansion struct {
	AccessListMode                bool `json:"accessListDeny"`
	DIDBlocked                    bool `json:"didBlocked"`
	DIDLocal                      bool `json:"didLocal"`
	SendMessages                  bool `json:"sendMessages"`
	ReceiveMessages                bool `json:"receiveMessages"`
	SendForwarded                 bool `json:"sendForwarded"`
	ReceiveForwarded              bool `json:"receiveForwarded"`
	CreateInvites                 bool `json:"createInvites"`
	AnonReceive                    bool `json:"anonReceive"`
	SelfManageList                 bool `json:"selfManageList"`
	SelfManageSendQueueLimit       bool `json:"selfManageSendQueueLimit"`
	SelfManageReceiveQueueLimit     bool `json:"selfManageReceiveQueueLimit"`
}

// Expand renders the mask's named flags, ignoring self-change bits which are
// write-authorization mechanics rather than observable state.
func (m ACLMask) Expand() ACLExpansion {
	return ACLExpansion{
		AccessListMode:    m.Has(ACLAccessListMode),
		DIDBlocked:        m.Has(ACLDIDBlocked),
		DIDLocal:          m.Has(ACLDIDLocal),
		SendMessages:      m.Has(ACLSendMessages),
		ReceiveMessages:   m.Has(ACLReceiveMessages),
		SendForwarded:     m.Has(ACLSendForwarded),
		ReceiveForwarded:  m.Has(ACLReceiveForwarded),
		CreateInvites:     m.Has(ACLCreateInvites),
		AnonReceive:       m.Has(ACLAnonReceive),
		SelfManageList:    m.Has(ACLSelfManageList),
		SelfManageSendQueueLimit:    m.Has(ACLSelfManageSendQueueLimit),
		SelfManageReceiveQueueLimit: m.Has(ACLSelfManageReceiveQueueLimit),
	}
}

// Named ACL convenience rule strings recognised at the configuration layer
// (spec §6) for the `global-default-ACL` setting. The access-list-mode bit
// itself is controlled by the separate `ACLMode` config field, not by these
// rules.
const (
	ACLRuleAllowAll = "allow_all"
	ACLRuleDenyAll  = "deny_all"
)

// ResolveACLRule resolves a convenience rule string to a mask, for the
// config-layer `global-default-ACL` setting.
func ResolveACLRule(rule string) (ACLMask, bool) {
	switch rule {
	case ACLRuleAllowAll:
		return ACLSendMessages | ACLSendMessagesSelfChange |
			ACLReceiveMessages | ACLReceiveMessagesSelfChange |
			ACLSendForwarded | ACLSendForwardedSelfChange |
			ACLReceiveForwarded | ACLReceiveForwardedSelfChange |
			ACLCreateInvites | ACLCreateInvitesSelfChange |
			ACLAnonReceive | ACLAnonReceiveSelfChange, true
	case ACLRuleDenyAll:
		return 0, true
	default:
		return 0, false
	}
}
