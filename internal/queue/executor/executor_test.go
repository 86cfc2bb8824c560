package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow-backend/internal/queue/domain"
)

type fakeStore struct {
	completed map[string][]byte
	failed    map[string]string
	failErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		completed: make(map[string][]byte),
		failed:    make(map[string]string),
	}
}

func (f *fakeStore) Complete(_ context.Context, jobID string, result []byte) error {
	f.completed[jobID] = result
	return nil
}

func (f *fakeStore) Fail(_ context.Context, jobID, message string) (domain.Status, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	f.failed[jobID] = message
	return domain.StatusFailed, nil
}

type stubHandler struct {
	jobType domain.Type
	execute func(ctx context.Context, job *domain.Job) ([]byte, error)
}

func (h stubHandler) Type() domain.Type { return h.jobType }

func (h stubHandler) Execute(ctx context.Context, job *domain.Job) ([]byte, error) {
	return h.execute(ctx, job)
}

func testJob(t domain.Type) *domain.Job {
	return &domain.Job{
		ID:          "6a0f7a39-4f3e-4a09-91a1-5a4f0f6a2f10",
		Type:        t,
		Status:      domain.StatusRunning,
		Attempts:    1,
		MaxAttempts: 3,
	}
}

func TestProcessSuccess(t *testing.T) {
	store := newFakeStore()
	e := New(store, 0, slog.Default())

	require.NoError(t, e.Register(stubHandler{
		jobType: domain.TypeScore,
		execute: func(context.Context, *domain.Job) ([]byte, error) {
			return []byte(`{"score":82}`), nil
		},
	}))

	job := testJob(domain.TypeScore)
	require.NoError(t, e.Process(context.Background(), job))

	assert.Equal(t, []byte(`{"score":82}`), store.completed[job.ID])
	assert.Empty(t, store.failed)
}

func TestProcessHandlerError(t *testing.T) {
	store := newFakeStore()
	e := New(store, 0, slog.Default())

	handlerErr := errors.New("upstream unavailable")
	require.NoError(t, e.Register(stubHandler{
		jobType: domain.TypeDiscover,
		execute: func(context.Context, *domain.Job) ([]byte, error) {
			return nil, handlerErr
		},
	}))

	job := testJob(domain.TypeDiscover)
	err := e.Process(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, handlerErr)
	assert.Equal(t, "upstream unavailable", store.failed[job.ID])
	assert.Empty(t, store.completed)
}

func TestProcessUnregisteredType(t *testing.T) {
	store := newFakeStore()
	e := New(store, 0, slog.Default())

	job := testJob(domain.TypeDeploy)
	err := e.Process(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownType)
	assert.Contains(t, store.failed[job.ID], "deploy")
}

func TestProcessRecoversPanic(t *testing.T) {
	store := newFakeStore()
	e := New(store, 0, slog.Default())

	require.NoError(t, e.Register(stubHandler{
		jobType: domain.TypeCapture,
		execute: func(context.Context, *domain.Job) ([]byte, error) {
			panic("nil dereference in capture")
		},
	}))

	job := testJob(domain.TypeCapture)
	err := e.Process(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, store.failed[job.ID], "handler panic")
}

func TestProcessTimeoutReachesHandler(t *testing.T) {
	store := newFakeStore()
	e := New(store, 10*time.Millisecond, slog.Default())

	require.NoError(t, e.Register(stubHandler{
		jobType: domain.TypeGenerate,
		execute: func(ctx context.Context, _ *domain.Job) ([]byte, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return []byte(`{}`), nil
			}
		},
	}))

	job := testJob(domain.TypeGenerate)
	err := e.Process(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, store.failed[job.ID], "deadline")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	e := New(newFakeStore(), 0, slog.Default())

	h := stubHandler{
		jobType: domain.TypeSendEmail,
		execute: func(context.Context, *domain.Job) ([]byte, error) { return nil, nil },
	}
	require.NoError(t, e.Register(h))

	err := e.Register(h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterRejectsUnknownType(t *testing.T) {
	e := New(newFakeStore(), 0, slog.Default())

	err := e.Register(stubHandler{
		jobType: domain.Type("mine_bitcoin"),
		execute: func(context.Context, *domain.Job) ([]byte, error) { return nil, nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownType)
}
