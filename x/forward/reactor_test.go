package forward

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/didcomm"
	"github.com/affinidi/didcomm-mediator/x/dispatch"
)

type fakeUnpacker struct {
	envType string
	err     error
}

func (f *fakeUnpacker) Unpack(ctx context.Context, raw []byte) (*didcomm.Envelope, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &didcomm.Envelope{Type: f.envType}, nil
}

type fakeSender struct {
	err   error
	calls int
}

func (f *fakeSender) Send(ctx context.Context, nextHopHash string, envelope []byte) error {
	f.calls++
	return f.err
}

type fakeProblemReporter struct {
	reported []string
}

func (f *fakeProblemReporter) ReportForwardFailure(ctx context.Context, originHash, lastError string) error {
	f.reported = append(f.reported, originHash)
	return nil
}

func TestDispatchOneCompletesOnSuccess(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sender := &fakeSender{}
	problems := &fakeProblemReporter{}
	cfg := core.Defaults()

	task, _ := repo.Enqueue(ctx, core.ForwardTask{NextHopHash: "hash-bob", OriginHash: "hash-alice"})

	r := &reactor{repository: repo, sender: sender, problems: problems, config: cfg, workers: 1}
	r.dispatchOne(ctx)

	assert.Equal(t, "completed", repo.tasks[task.ID].Status)
	assert.Equal(t, 1, sender.calls)
	assert.Empty(t, problems.reported)
}

func TestDispatchOneFailsPermanentlyAndReportsProblem(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sender := &fakeSender{err: errors.New("permanent failure")}
	problems := &fakeProblemReporter{}
	cfg := core.Defaults()

	task, _ := repo.Enqueue(ctx, core.ForwardTask{NextHopHash: "hash-bob", OriginHash: "hash-alice"})

	r := &reactor{repository: repo, sender: sender, problems: problems, config: cfg, workers: 1}
	r.dispatchOne(ctx)

	assert.Equal(t, "failed", repo.tasks[task.ID].Status)
	assert.Equal(t, []string{"hash-alice"}, problems.reported)
}

func TestDispatchOneReschedulesOnRetryableFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sender := &fakeSender{err: core.NewErrorRetryable(errors.New("connection reset"))}
	problems := &fakeProblemReporter{}
	cfg := core.Defaults()

	task, _ := repo.Enqueue(ctx, core.ForwardTask{NextHopHash: "hash-bob", OriginHash: "hash-alice"})

	r := &reactor{repository: repo, sender: sender, problems: problems, config: cfg, workers: 1}
	r.dispatchOne(ctx)

	assert.Equal(t, "pending", repo.tasks[task.ID].Status)
	assert.Equal(t, 1, repo.tasks[task.ID].Attempt)
	assert.Empty(t, problems.reported)
}

func TestDispatchOneBlocksAdminManagementForwardUnderPolicy(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sender := &fakeSender{}
	problems := &fakeProblemReporter{}
	unpacker := &fakeUnpacker{envType: dispatch.AdminManagementType}
	cfg := core.Defaults()
	cfg.Policy.BlockRemoteAdminMsgs = true

	task, _ := repo.Enqueue(ctx, core.ForwardTask{NextHopHash: "hash-bob", OriginHash: "hash-alice"})

	r := &reactor{repository: repo, sender: sender, problems: problems, unpacker: unpacker, config: cfg, workers: 1}
	r.dispatchOne(ctx)

	assert.Equal(t, "failed", repo.tasks[task.ID].Status)
	assert.Equal(t, 0, sender.calls)
}

func TestDispatchOneAllowsAnonymousNonAdminForwardUnderPolicy(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sender := &fakeSender{}
	problems := &fakeProblemReporter{}
	unpacker := &fakeUnpacker{envType: "https://didcomm.org/basicmessage/2.0/message"}
	cfg := core.Defaults()
	cfg.Policy.BlockRemoteAdminMsgs = true

	task, _ := repo.Enqueue(ctx, core.ForwardTask{NextHopHash: "hash-bob", OriginHash: "hash-alice", Anonymous: true})

	r := &reactor{repository: repo, sender: sender, problems: problems, unpacker: unpacker, config: cfg, workers: 1}
	r.dispatchOne(ctx)

	assert.Equal(t, "completed", repo.tasks[task.ID].Status)
	assert.Equal(t, 1, sender.calls)
}

func TestDispatchOneAllowsAdminManagementForwardWhenAttachmentIsOpaque(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sender := &fakeSender{}
	problems := &fakeProblemReporter{}
	unpacker := &fakeUnpacker{err: didcomm.ErrUnpackFailed}
	cfg := core.Defaults()
	cfg.Policy.BlockRemoteAdminMsgs = true

	task, _ := repo.Enqueue(ctx, core.ForwardTask{NextHopHash: "hash-bob", OriginHash: "hash-alice"})

	r := &reactor{repository: repo, sender: sender, problems: problems, unpacker: unpacker, config: cfg, workers: 1}
	r.dispatchOne(ctx)

	assert.Equal(t, "completed", repo.tasks[task.ID].Status)
	assert.Equal(t, 1, sender.calls)
}

func TestDispatchOneSuppressesProblemReportWhenTaskRequests(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sender := &fakeSender{err: errors.New("permanent failure")}
	problems := &fakeProblemReporter{}
	cfg := core.Defaults()

	task, _ := repo.Enqueue(ctx, core.ForwardTask{NextHopHash: "hash-bob", OriginHash: "hash-alice", SuppressFail: true})

	r := &reactor{repository: repo, sender: sender, problems: problems, config: cfg, workers: 1}
	r.dispatchOne(ctx)

	assert.Equal(t, "failed", repo.tasks[task.ID].Status)
	assert.Empty(t, problems.reported)
	_ = task
}
