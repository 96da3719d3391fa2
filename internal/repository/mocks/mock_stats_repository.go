package mocks

import (
	"context"
	"time"

	"cvpipeline/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockStatsRepository struct {
	mock.Mock
}

func (m *MockStatsRepository) Scores(ctx context.Context, ownerID string) ([]repository.ScoreRow, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.ScoreRow), args.Error(1)
}

func (m *MockStatsRepository) UploadTimes(ctx context.Context, ownerID string, since time.Time) ([]time.Time, error) {
	args := m.Called(ctx, ownerID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockStatsRepository) Recent(ctx context.Context, ownerID string, limit int) ([]repository.RecentCV, error) {
	args := m.Called(ctx, ownerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.RecentCV), args.Error(1)
}
