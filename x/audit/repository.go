package audit

import (
	"context"

	"gorm.io/gorm"

	"github.com/affinidi/didcomm-mediator/core"
)

// Repository is the audit trail's persistence interface, grounded on the
// teacher's `x/store` commit-log (`Log`'s append-then-read shape), narrowed
// to an append-and-list store since an audit entry is never mutated once
// written.
type Repository interface {
	Append(ctx context.Context, entry core.AuditEntry) error
	List(ctx context.Context, actorHash string, limit int) ([]core.AuditEntry, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Append(ctx context.Context, entry core.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "Audit.Repository.Append")
	defer span.End()

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// List returns the most recent entries, optionally filtered to one actor.
// An empty actorHash returns the full trail.
func (r *repository) List(ctx context.Context, actorHash string, limit int) ([]core.AuditEntry, error) {
	ctx, span := tracer.Start(ctx, "Audit.Repository.List")
	defer span.End()

	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if actorHash != "" {
		query = query.Where("actor_hash = ?", actorHash)
	}

	var entries []core.AuditEntry
	if err := query.Find(&entries).Error; err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entries, nil
}
