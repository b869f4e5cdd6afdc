package dispatch

import (
	"context"
	"encoding/json"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/account"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/problem"
)

// handleACLManagement implements the ACL management family of spec §4.7: a
// Standard account may only act on its own entry and only flip bits its
// own self-change bits allow (x/account.ChangeACL enforces this via
// x/acl.WriteAllowed's semantics); an Admin/RootAdmin account may target
// anyone and flip any bit.
func (d *Dispatcher) handleACLManagement(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	var body aclManagementBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, err
	}

	requester, err := d.accounts.Get(ctx, senderHash)
	if err != nil {
		return nil, err
	}
	isAdmin := requester.Type == core.AccountTypeAdmin || requester.Type == core.AccountTypeRootAdmin

	target := body.Target
	if target == "" {
		target = senderHash
	} else {
		target = d.accounts.Hash(target)
	}
	if target != senderHash && !isAdmin {
		return nil, problem.Wrap(problem.CodeAccessListDenied, "", "only an admin may manage another account's ACL")
	}

	switch body.Action {
	case "get":
		return d.aclSnapshot(ctx, target)

	case "set":
		actor := account.ActorOwner
		if isAdmin {
			actor = account.ActorAdmin
		}
		updated, err := d.accounts.ChangeACL(ctx, actor, target, core.ACLMask(body.Bit), body.Value)
		if err != nil {
			return nil, err
		}
		d.recordAudit(ctx, senderHash, "acl-management.set", target, "ok")
		return d.aclSnapshotFrom(updated), nil

	case "add-access-list":
		if !isAdmin && !requester.ACL.Has(core.ACLSelfManageList) {
			return nil, problem.Wrap(problem.CodeAccessListDenied, "", "self-management of the access list is disabled for this account")
		}
		truncated, err := d.accounts.AddAccessListEntry(ctx, target, d.accounts.Hash(body.Entry))
		if err != nil {
			return nil, err
		}
		d.recordAudit(ctx, senderHash, "acl-management.add-access-list", target, "ok")
		a, err := d.accounts.Get(ctx, target)
		if err != nil {
			return nil, err
		}
		resp := d.aclSnapshotFrom(a)
		snapshot := resp.Body.(aclManagementResponseBody)
		snapshot.Truncated = truncated
		resp.Body = snapshot
		return resp, nil

	case "remove-access-list":
		if !isAdmin && !requester.ACL.Has(core.ACLSelfManageList) {
			return nil, problem.Wrap(problem.CodeAccessListDenied, "", "self-management of the access list is disabled for this account")
		}
		if err := d.accounts.RemoveAccessListEntry(ctx, target, d.accounts.Hash(body.Entry)); err != nil {
			return nil, err
		}
		d.recordAudit(ctx, senderHash, "acl-management.remove-access-list", target, "ok")
		return d.aclSnapshot(ctx, target)

	default:
		return nil, problem.Wrap(problem.CodeMessageUnpack, "", "unrecognised acl-management action")
	}
}

func (d *Dispatcher) aclSnapshot(ctx context.Context, didHash string) (*Response, error) {
	a, err := d.accounts.Get(ctx, didHash)
	if err != nil {
		return nil, err
	}
	return d.aclSnapshotFrom(a), nil
}

func (d *Dispatcher) aclSnapshotFrom(a core.Account) *Response {
	return &Response{
		Type: d.config.Policy.ACLManagementResponseType,
		Body: aclManagementResponseBody{
			Target:     a.DIDHash,
			ACLHex:     a.ACL.Hex(),
			Expansion:  a.ACL.Expand(),
			AccessList: a.AccessList,
		},
	}
}

func (d *Dispatcher) recordAudit(ctx context.Context, actorHash, action, targetHash, result string) {
	if d.audit == nil {
		return
	}
	_ = d.audit.Record(ctx, actorHash, action, targetHash, result)
}
