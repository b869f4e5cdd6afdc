// Package acl implements the pure ACL bitmask evaluator of spec §4.1.
// Persistence of account masks and access lists is the account store's
// concern (x/account); this package only decides allow/deny given masks
// already read from storage.
package acl

import (
	"crypto/subtle"

	"github.com/affinidi/didcomm-mediator/core"
)

// Action enumerates the operations §4.1 rule 2-3 evaluate.
type Action int

const (
	ActionSendLocal Action = iota
	ActionForwardNextHop
)

// Request bundles everything Permit needs to reach a decision.
// SubjectDIDHash is empty for an anonymous sender.
type Request struct {
	Action          Action
	Anonymous       bool
	SubjectACL      core.ACLMask
	ObjectACL       core.ACLMask
	ObjectAccessList []string
	SubjectDIDHash  string
	MediatorDIDHash string
}

// Permit evaluates the rules of spec §4.1 in order and returns the final
// allow/deny decision. It is a pure function of its inputs.
func Permit(req Request) bool {
	// Rule 1: a blocked subject is denied outright.
	if req.SubjectACL.Has(core.ACLDIDBlocked) {
		return false
	}

	switch req.Action {
	case ActionSendLocal:
		if !req.SubjectACL.Has(core.ACLSendMessages) {
			return false
		}
		if !req.ObjectACL.Has(core.ACLReceiveMessages) {
			return false
		}
		if req.Anonymous && !req.ObjectACL.Has(core.ACLAnonReceive) {
			return false
		}
	case ActionForwardNextHop:
		if !req.SubjectACL.Has(core.ACLSendForwarded) {
			return false
		}
		if !req.ObjectACL.Has(core.ACLReceiveForwarded) {
			return false
		}
	}

	// Rule 4: access-list gating. The mediator's own DID hash is always
	// permitted regardless of mode.
	if constantTimeEqual(req.SubjectDIDHash, req.MediatorDIDHash) {
		return true
	}

	inList := containsHash(req.ObjectAccessList, req.SubjectDIDHash)
	if req.ObjectACL.Has(core.ACLAccessListMode) {
		// deny mode: deny iff subject is listed.
		if inList {
			return false
		}
	} else {
		// allow mode: deny iff subject is NOT listed.
		if !inList {
			return false
		}
	}

	return true
}

func containsHash(list []string, hash string) bool {
	for _, h := range list {
		if constantTimeEqual(h, hash) {
			return true
		}
	}
	return false
}

// constantTimeEqual compares two DID hashes without leaking their common
// prefix length via branch timing, per spec §5/§9 "every comparison of DID
// hashes in an admin-authorisation path must be constant-time" — applied
// here too since access-list membership is part of the same trust boundary.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Actor distinguishes who is performing a write for WriteAllowed.
type Actor int

const (
	ActorOwner Actor = iota
	ActorAdmin
)

// WriteAllowed implements spec §4.1 rule 5: an owner may only flip a bit
// whose paired self-change bit they hold, and never a bit in
// core.IsProtectedFromSelfChange; an admin may flip any bit, the protected
// set included.
func WriteAllowed(actor Actor, ownerMask core.ACLMask, bit core.ACLMask) bool {
	switch actor {
	case ActorAdmin:
		return true
	case ActorOwner:
		if core.IsProtectedFromSelfChange(bit) {
			return false
		}
		return ownerMask.SelfChangeAllows(bit)
	default:
		return false
	}
}
