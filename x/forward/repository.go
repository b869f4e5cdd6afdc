package forward

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/affinidi/didcomm-mediator/core"
)

// Repository is the forwarding work queue's persistence interface (spec
// §4.6): a bounded, ordered collection keyed by due-time.
type Repository interface {
	Enqueue(ctx context.Context, task core.ForwardTask) (core.ForwardTask, error)
	// Dequeue pops one due task and marks it running, atomically, so two
	// worker goroutines never pick up the same task.
	Dequeue(ctx context.Context) (*core.ForwardTask, error)
	Complete(ctx context.Context, id string) error
	// Reschedule bumps attempt and due-at for a transient failure.
	Reschedule(ctx context.Context, id string, dueAt time.Time, lastError string) error
	Fail(ctx context.Context, id, lastError string) (core.ForwardTask, error)
	PendingCount(ctx context.Context) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates the forward task repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Enqueue(ctx context.Context, task core.ForwardTask) (core.ForwardTask, error) {
	ctx, span := tracer.Start(ctx, "Forward.Repository.Enqueue")
	defer span.End()

	task.Status = "pending"
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(&task).Error; err != nil {
		span.RecordError(err)
		return core.ForwardTask{}, err
	}
	return task, nil
}

func (r *repository) Dequeue(ctx context.Context) (*core.ForwardTask, error) {
	ctx, span := tracer.Start(ctx, "Forward.Repository.Dequeue")
	defer span.End()

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		span.RecordError(tx.Error)
		return nil, tx.Error
	}

	var task core.ForwardTask
	err := tx.Clauses().
		Where("status = ? AND due_at <= ?", "pending", time.Now()).
		Order("due_at ASC").
		First(&task).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, core.NewErrorNotFound()
		}
		span.RecordError(err)
		return nil, err
	}

	task.Status = "running"
	if err := tx.Save(&task).Error; err != nil {
		tx.Rollback()
		span.RecordError(err)
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &task, nil
}

func (r *repository) Complete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Forward.Repository.Complete")
	defer span.End()

	err := r.db.WithContext(ctx).Model(&core.ForwardTask{}).Where("id = ?", id).Update("status", "completed").Error
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *repository) Reschedule(ctx context.Context, id string, dueAt time.Time, lastError string) error {
	ctx, span := tracer.Start(ctx, "Forward.Repository.Reschedule")
	defer span.End()

	err := r.db.WithContext(ctx).Model(&core.ForwardTask{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     "pending",
		"due_at":     dueAt,
		"attempt":    gorm.Expr("attempt + 1"),
		"last_error": lastError,
	}).Error
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *repository) Fail(ctx context.Context, id, lastError string) (core.ForwardTask, error) {
	ctx, span := tracer.Start(ctx, "Forward.Repository.Fail")
	defer span.End()

	if err := r.db.WithContext(ctx).Model(&core.ForwardTask{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     "failed",
		"last_error": lastError,
	}).Error; err != nil {
		span.RecordError(err)
		return core.ForwardTask{}, err
	}

	var task core.ForwardTask
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		span.RecordError(err)
		return core.ForwardTask{}, err
	}
	return task, nil
}

func (r *repository) PendingCount(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Forward.Repository.PendingCount")
	defer span.End()

	var count int64
	err := r.db.WithContext(ctx).Model(&core.ForwardTask{}).Where("status IN ?", []string{"pending", "running"}).Count(&count).Error
	if err != nil {
		span.RecordError(err)
	}
	return count, err
}
