package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"cvpipeline/internal/model"
	"cvpipeline/internal/service"
)

// MockCVService is a mock implementation of service.CVService.
type MockCVService struct {
	mock.Mock
}

func (m *MockCVService) Upload(ctx context.Context, r io.Reader, ownerID, originalFilename, contentType string, size int64) (*model.CV, error) {
	args := m.Called(ctx, r, ownerID, originalFilename, contentType, size)
	var cv *model.CV
	if args.Get(0) != nil {
		cv = args.Get(0).(*model.CV)
	}
	return cv, args.Error(1)
}

func (m *MockCVService) List(ctx context.Context, ownerID string, limit, offset int) (*service.CVListResult, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	var res *service.CVListResult
	if args.Get(0) != nil {
		res = args.Get(0).(*service.CVListResult)
	}
	return res, args.Error(1)
}

func (m *MockCVService) Get(ctx context.Context, id string) (*service.CVDetail, error) {
	args := m.Called(ctx, id)
	var d *service.CVDetail
	if args.Get(0) != nil {
		d = args.Get(0).(*service.CVDetail)
	}
	return d, args.Error(1)
}

func (m *MockCVService) Logs(ctx context.Context, id string) ([]model.ProcessingLogEntry, error) {
	args := m.Called(ctx, id)
	var logs []model.ProcessingLogEntry
	if args.Get(0) != nil {
		logs = args.Get(0).([]model.ProcessingLogEntry)
	}
	return logs, args.Error(1)
}

func (m *MockCVService) Reanalyze(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
