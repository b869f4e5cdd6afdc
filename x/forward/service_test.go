package forward

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/affinidi/didcomm-mediator/core"
)

type fakeRepository struct {
	tasks map[string]core.ForwardTask
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{tasks: map[string]core.ForwardTask{}}
}

func (f *fakeRepository) Enqueue(ctx context.Context, task core.ForwardTask) (core.ForwardTask, error) {
	task.ID = uuid.NewString()
	task.Status = "pending"
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeRepository) Dequeue(ctx context.Context) (*core.ForwardTask, error) {
	for id, t := range f.tasks {
		if t.Status == "pending" {
			t.Status = "running"
			f.tasks[id] = t
			return &t, nil
		}
	}
	return nil, core.NewErrorNotFound()
}

func (f *fakeRepository) Complete(ctx context.Context, id string) error {
	t := f.tasks[id]
	t.Status = "completed"
	f.tasks[id] = t
	return nil
}

func (f *fakeRepository) Reschedule(ctx context.Context, id string, dueAt time.Time, lastError string) error {
	t := f.tasks[id]
	t.Status = "pending"
	t.DueAt = dueAt
	t.Attempt++
	t.LastError = lastError
	f.tasks[id] = t
	return nil
}

func (f *fakeRepository) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	for _, t := range f.tasks {
		if t.Status == "pending" || t.Status == "running" {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepository) Fail(ctx context.Context, id, lastError string) (core.ForwardTask, error) {
	t := f.tasks[id]
	t.Status = "failed"
	t.LastError = lastError
	f.tasks[id] = t
	return t, nil
}

func TestScheduleEnqueuesPendingTask(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	svc := NewService(repo, core.Defaults())

	task, err := svc.Schedule(ctx, "hash-bob", []byte("envelope"), 0, false, "hash-alice", false)
	assert.NoError(t, err)
	assert.Equal(t, "pending", task.Status)
	assert.Equal(t, "hash-bob", task.NextHopHash)
}

func TestScheduleClampsDelayToHorizon(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	cfg := core.Defaults()
	svc := NewService(repo, cfg)

	task, err := svc.Schedule(ctx, "hash-bob", []byte("envelope"), int64(cfg.TTL.ForwardHorizon.Milliseconds())*10, false, "hash-alice", false)
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(cfg.TTL.ForwardHorizon), task.DueAt, time.Second)
}

func TestScheduleRejectsWhenQueueAtCapacity(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	cfg := core.Defaults()
	cfg.Queue.ForwardCapacity = 1
	svc := NewService(repo, cfg)

	_, err := svc.Schedule(ctx, "hash-bob", []byte("envelope"), 0, false, "hash-alice", false)
	assert.NoError(t, err)

	_, err = svc.Schedule(ctx, "hash-bob", []byte("envelope"), 0, false, "hash-alice", false)
	assert.Error(t, err)
}
