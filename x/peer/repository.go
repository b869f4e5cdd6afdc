package peer

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/affinidi/didcomm-mediator/core"
)

// Repository is the known-peer-mediator directory's persistence
// interface, grounded on the teacher's `x/domain` host directory's gorm
// CRUD shape, narrowed to the fields a forwarding mediator actually needs.
type Repository interface {
	Get(ctx context.Context, didHash string) (Record, error)
	Upsert(ctx context.Context, record Record) error
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, didHash string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, didHash string) (Record, error) {
	ctx, span := tracer.Start(ctx, "Peer.Repository.Get")
	defer span.End()

	var record Record
	err := r.db.WithContext(ctx).First(&record, "did_hash = ?", didHash).Error
	if err == gorm.ErrRecordNotFound {
		return Record{}, core.NewErrorNotFound()
	}
	if err != nil {
		span.RecordError(err)
		return Record{}, err
	}
	return record, nil
}

func (r *repository) Upsert(ctx context.Context, record Record) error {
	ctx, span := tracer.Start(ctx, "Peer.Repository.Upsert")
	defer span.End()

	record.LastSeenAt = time.Now()
	if err := r.db.WithContext(ctx).Save(&record).Error; err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (r *repository) List(ctx context.Context) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "Peer.Repository.List")
	defer span.End()

	var records []Record
	err := r.db.WithContext(ctx).Order("last_seen_at DESC").Find(&records).Error
	if err != nil {
		span.RecordError(err)
	}
	return records, err
}

func (r *repository) Delete(ctx context.Context, didHash string) error {
	ctx, span := tracer.Start(ctx, "Peer.Repository.Delete")
	defer span.End()

	err := r.db.WithContext(ctx).Delete(&Record{}, "did_hash = ?", didHash).Error
	if err != nil {
		span.RecordError(err)
	}
	return err
}
