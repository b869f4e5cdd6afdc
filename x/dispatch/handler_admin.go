package dispatch

import (
	"context"
	"encoding/json"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/problem"
)

// handleAdminManagement promotes/demotes an account between Standard and
// Admin. Restricted to RootAdmin: spec §4.2's change-type rules route
// through x/account.ChangeType, which independently refuses any change to
// or from Mediator and lets only a RootAdmin strip RootAdmin.
func (d *Dispatcher) handleAdminManagement(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	var body adminManagementBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, err
	}

	requester, err := d.accounts.Get(ctx, senderHash)
	if err != nil {
		return nil, err
	}
	if requester.Type != core.AccountTypeRootAdmin {
		return nil, problem.Wrap(problem.CodeAccessListDenied, "", "admin-management requires RootAdmin")
	}

	target := d.accounts.Hash(body.Target)

	var newType core.AccountType
	switch body.Action {
	case "promote":
		newType = core.AccountTypeAdmin
	case "demote":
		newType = core.AccountTypeStandard
	default:
		return nil, problem.Wrap(problem.CodeMessageUnpack, "", "unrecognised admin-management action")
	}

	updated, err := d.accounts.ChangeType(ctx, requester.Type, target, newType)
	if err != nil {
		return nil, err
	}
	d.recordAudit(ctx, senderHash, "admin-management."+body.Action, target, "ok")

	return &Response{
		Type: adminManagementResponseType,
		Body: adminManagementResponseBody{Target: updated.DIDHash, Type: updated.Type.String()},
	}, nil
}
