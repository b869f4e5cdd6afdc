package audit

import (
	"context"
	"encoding/json"

	"github.com/affinidi/didcomm-mediator/core"
)

// Service is the audit trail of SPEC_FULL.md's audit-log supplement: every
// admin-management and ACL-management write records one entry here,
// independent of and in addition to the problem reports spec §7 already
// requires for *failed* operations. Implements dispatch.AuditRecorder.
type Service interface {
	Record(ctx context.Context, actorHash, action, targetHash, result string) error
	List(ctx context.Context, actorHash string, limit int) ([]core.AuditEntry, error)
}

type service struct {
	repository Repository
}

func NewService(repository Repository) Service {
	return &service{repository: repository}
}

func (s *service) Record(ctx context.Context, actorHash, action, targetHash, result string) error {
	ctx, span := tracer.Start(ctx, "Audit.Service.Record")
	defer span.End()

	detail, _ := json.Marshal(map[string]string{"target": targetHash})

	entry := core.AuditEntry{
		ActorHash:  actorHash,
		Action:     action,
		Target:     targetHash,
		Result:     result,
		DetailJSON: string(detail),
	}

	if err := s.repository.Append(ctx, entry); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *service) List(ctx context.Context, actorHash string, limit int) ([]core.AuditEntry, error) {
	ctx, span := tracer.Start(ctx, "Audit.Service.List")
	defer span.End()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	entries, err := s.repository.List(ctx, actorHash, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entries, nil
}
