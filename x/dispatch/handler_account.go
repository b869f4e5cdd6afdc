package dispatch

import (
	"context"
	"encoding/json"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/problem"
)

// handleAccountManagement implements the account-management family of
// spec §4.7: "get" (self, or any account for an admin), "list" (admin
// only), "set-queue-limits" (self within soft/hard bounds, or admin
// unbounded), "remove" (admin only, subject to x/account's protected-
// account rules).
func (d *Dispatcher) handleAccountManagement(ctx context.Context, senderHash string, msg didcomm.Envelope) (*Response, error) {
	var body accountManagementBody
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
		return nil, problem.Wrap(problem.CodeAccessListDenied, "", "only an admin may manage another account")
	}

	switch body.Action {
	case "get":
		a, err := d.accounts.Get(ctx, target)
		if err != nil {
			return nil, err
		}
		return &Response{Type: accountManagementResponseType, Body: accountManagementResponseBody{Account: a}}, nil

	case "list":
		if !isAdmin {
			return nil, problem.Wrap(problem.CodeAccessListDenied, "", "listing accounts requires admin")
		}
		limit := body.Limit
		if limit <= 0 {
			limit = 100
		}
		accounts, cursor, err := d.accounts.List(ctx, body.Cursor, limit)
		if err != nil {
			return nil, err
		}
		return &Response{
			Type: accountManagementResponseType,
			Body: accountManagementResponseBody{Accounts: accounts, NextCursor: cursor},
		}, nil

	case "set-queue-limits":
		updated, err := d.accounts.ChangeQueueLimits(ctx, target, body.Send, body.Receive, isAdmin)
		if err != nil {
			return nil, err
		}
		d.recordAudit(ctx, senderHash, "account-management.set-queue-limits", target, "ok")
		return &Response{Type: accountManagementResponseType, Body: accountManagementResponseBody{Account: updated}}, nil

	case "remove":
		if !isAdmin {
			return nil, problem.Wrap(problem.CodeAccessListDenied, "", "removing an account requires admin")
		}
		if err := d.accounts.Remove(ctx, target); err != nil {
			if _, ok := err.(core.ErrorProtected); ok {
				return nil, problem.Wrap(problem.CodeAccountRemoveProtected, "", err.Error())
			}
			return nil, err
		}
		d.recordAudit(ctx, senderHash, "account-management.remove", target, "ok")
		return &Response{Type: accountManagementResponseType, Body: accountManagementResponseBody{}}, nil

	default:
		return nil, problem.Wrap(problem.CodeMessageUnpack, "", "unrecognised account-management action")
	}
}
