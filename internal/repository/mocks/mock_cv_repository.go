package mocks

import (
	"context"
	"time"

	"cvpipeline/internal/model"
	"cvpipeline/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockCVRepository struct {
	mock.Mock
}

func (m *MockCVRepository) Create(ctx context.Context, cv *model.CV) (*model.CV, error) {
	args := m.Called(ctx, cv)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CV), args.Error(1)
}

func (m *MockCVRepository) FindByID(ctx context.Context, id string) (*model.CV, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CV), args.Error(1)
}

func (m *MockCVRepository) FindAnalysis(ctx context.Context, cvID string) (*model.Analysis, error) {
	args := m.Called(ctx, cvID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Analysis), args.Error(1)
}

func (m *MockCVRepository) ListByOwner(ctx context.Context, ownerID string, pq repository.PageQuery) (*repository.PageResult[model.CV], error) {
	args := m.Called(ctx, ownerID, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.CV]), args.Error(1)
}

func (m *MockCVRepository) NextPending(ctx context.Context, now time.Time) (string, model.Status, error) {
	args := m.Called(ctx, now)
	return args.String(0), args.Get(1).(model.Status), args.Error(2)
}

func (m *MockCVRepository) Claim(ctx context.Context, id string, expected model.Status, leaseUntil time.Time) (*model.CV, error) {
	args := m.Called(ctx, id, expected, leaseUntil)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CV), args.Error(1)
}

func (m *MockCVRepository) MarkRetry(ctx context.Context, id string, incrementAttempt bool, nextAttemptAt time.Time, message, errDetail string) error {
	args := m.Called(ctx, id, incrementAttempt, nextAttemptAt, message, errDetail)
	return args.Error(0)
}

func (m *MockCVRepository) MarkFailed(ctx context.Context, id string, message, errDetail string) error {
	args := m.Called(ctx, id, message, errDetail)
	return args.Error(0)
}

func (m *MockCVRepository) Complete(ctx context.Context, id string, extractedText string, a *model.Analysis) error {
	args := m.Called(ctx, id, extractedText, a)
	return args.Error(0)
}

func (m *MockCVRepository) Resubmit(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCVRepository) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockCVRepository) Logs(ctx context.Context, cvID string) ([]model.ProcessingLogEntry, error) {
	args := m.Called(ctx, cvID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ProcessingLogEntry), args.Error(1)
}
