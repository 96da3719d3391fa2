package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"cvpipeline/internal/model"
	"cvpipeline/internal/repository"
	repoMocks "cvpipeline/internal/repository/mocks"
	"cvpipeline/internal/storage"
	storeMocks "cvpipeline/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type fakeSubmitter struct {
	submitted []*model.CV
}

func (f *fakeSubmitter) Submit(cv *model.CV) {
	f.submitted = append(f.submitted, cv)
}

func TestCVService_Upload(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name             string
		ownerID          string
		originalFilename string
		contentType      string
		size             int64
		setupMocks       func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) io.Reader
		wantErr          error
		wantErrMsg       string
		wantSubmits      int
	}{
		{
			name:             "happy path",
			ownerID:          "user-1",
			originalFilename: "resume.pdf",
			contentType:      "application/pdf",
			size:             11,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) io.Reader {
				r := strings.NewReader("hello world")
				mStore.On("Put", ctx, mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "cvs/") && strings.HasSuffix(key, ".pdf")
				}), r, storage.PutObjectOptions{
					Size:        11,
					ContentType: "application/pdf",
					Metadata:    map[string]string{"original-filename": "resume.pdf"},
				}).Return(storage.ObjectInfo{
					Key:         "cvs/uuid.pdf",
					Size:        11,
					ContentType: "application/pdf",
				}, nil)

				mRepo.On("Create", ctx, mock.MatchedBy(func(cv *model.CV) bool {
					return cv.Filename != "" &&
						cv.OwnerID == "user-1" &&
						cv.StoragePath == "cvs/uuid.pdf" &&
						cv.Status == model.StatusUploaded
				})).Return(&model.CV{ID: "gen-id", Status: model.StatusUploaded}, nil)

				return r
			},
			wantSubmits: 1,
		},
		{
			name:             "validation error - nil reader",
			ownerID:          "user-1",
			originalFilename: "resume.pdf",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) io.Reader {
				return nil
			},
			wantErr: ErrReaderNil,
		},
		{
			name:             "validation error - missing owner",
			originalFilename: "resume.pdf",
			size:             5,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) io.Reader {
				return strings.NewReader("hello")
			},
			wantErr: ErrOwnerRequired,
		},
		{
			name:             "validation error - empty file",
			ownerID:          "user-1",
			originalFilename: "resume.pdf",
			size:             0,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) io.Reader {
				return strings.NewReader("")
			},
			wantErr: ErrEmptyFile,
		},
		{
			name:             "storage error",
			ownerID:          "user-1",
			originalFilename: "resume.pdf",
			size:             5,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) io.Reader {
				r := strings.NewReader("hello")
				mStore.On("Put", ctx, mock.Anything, r, mock.Anything).
					Return(storage.ObjectInfo{}, errors.New("storage fail"))
				return r
			},
			wantErrMsg: "upload to storage: storage fail",
		},
		{
			name:             "repository error with successful rollback",
			ownerID:          "user-1",
			originalFilename: "resume.pdf",
			size:             5,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) io.Reader {
				r := strings.NewReader("hello")
				mStore.On("Put", ctx, mock.Anything, r, mock.Anything).
					Return(func(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
						return storage.ObjectInfo{Key: key}
					}, nil)
				mRepo.On("Create", ctx, mock.Anything).
					Return(nil, errors.New("db fail"))
				mStore.On("Delete", ctx, mock.Anything).Return(nil)
				return r
			},
			wantErrMsg: "db save failed: db fail",
		},
		{
			name:             "repository error with failed rollback",
			ownerID:          "user-1",
			originalFilename: "resume.pdf",
			size:             5,
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) io.Reader {
				r := strings.NewReader("hello")
				mStore.On("Put", ctx, mock.Anything, r, mock.Anything).
					Return(func(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
						return storage.ObjectInfo{Key: key}
					}, nil)
				mRepo.On("Create", ctx, mock.Anything).
					Return(nil, errors.New("db fail"))
				mStore.On("Delete", ctx, mock.Anything).Return(errors.New("delete fail"))
				return r
			},
			wantErrMsg: "rollback delete failed: delete fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockCVRepository)
			sub := &fakeSubmitter{}
			svc := NewCVService(mStore, mRepo, sub, time.Minute)

			r := tt.setupMocks(mStore, mRepo)

			cv, err := svc.Upload(ctx, r, tt.ownerID, tt.originalFilename, tt.contentType, tt.size)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else if tt.wantErrMsg != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, cv)
			}
			assert.Len(t, sub.submitted, tt.wantSubmits)

			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestCVService_List(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		ownerID    string
		limit      int
		offset     int
		setupMocks func(mRepo *repoMocks.MockCVRepository)
		wantErr    error
		checkRes   func(t *testing.T, res *CVListResult)
	}{
		{
			name:    "happy path",
			ownerID: "user-1",
			limit:   10,
			offset:  0,
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {
				mRepo.On("ListByOwner", ctx, "user-1", repository.PageQuery{Limit: 10, Offset: 0}).
					Return(&repository.PageResult[model.CV]{
						Items: []model.CV{{ID: "1"}, {ID: "2"}},
						Total: 2,
					}, nil)
			},
			checkRes: func(t *testing.T, res *CVListResult) {
				assert.Equal(t, 2, len(res.Items))
				assert.Equal(t, 2, res.Total)
			},
		},
		{
			name:       "validation - missing owner",
			ownerID:    "",
			limit:      10,
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {},
			wantErr:    ErrOwnerRequired,
		},
		{
			name:    "pagination boundary - zero limit uses default",
			ownerID: "user-1",
			limit:   0,
			offset:  -1,
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {
				mRepo.On("ListByOwner", ctx, "user-1", repository.PageQuery{Limit: 10, Offset: 0}).
					Return(&repository.PageResult[model.CV]{Items: []model.CV{}, Total: 0}, nil)
			},
		},
		{
			name:    "repository error",
			ownerID: "user-1",
			limit:   10,
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {
				mRepo.On("ListByOwner", ctx, "user-1", mock.Anything).Return(nil, errors.New("db fail"))
			},
			wantErr: errors.New("db fail"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockCVRepository)
			svc := NewCVService(nil, mRepo, nil, time.Minute)

			tt.setupMocks(mRepo)

			res, err := svc.List(ctx, tt.ownerID, tt.limit, tt.offset)

			if tt.wantErr != nil {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				if tt.checkRes != nil {
					tt.checkRes(t, res)
				}
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestCVService_Get(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		id         string
		setupMocks func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository)
		wantErr    error
		checkRes   func(t *testing.T, d *CVDetail)
	}{
		{
			name: "happy path - pending cv has no analysis",
			id:   "valid-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "valid-id").
					Return(&model.CV{ID: "valid-id", StoragePath: "cvs/a.pdf", Status: model.StatusProcessing}, nil)
				mStore.On("PresignGet", ctx, "cvs/a.pdf", time.Minute).
					Return("https://minio/cvs/a.pdf", nil)
			},
			checkRes: func(t *testing.T, d *CVDetail) {
				assert.Nil(t, d.Analysis)
				assert.Equal(t, "https://minio/cvs/a.pdf", d.DownloadURL)
			},
		},
		{
			name: "happy path - completed cv includes analysis",
			id:   "done-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "done-id").
					Return(&model.CV{ID: "done-id", StoragePath: "cvs/b.pdf", Status: model.StatusCompleted}, nil)
				mStore.On("PresignGet", ctx, "cvs/b.pdf", time.Minute).
					Return("", errors.New("presign fail"))
				mRepo.On("FindAnalysis", ctx, "done-id").
					Return(&model.Analysis{CVID: "done-id", OverallScore: 77}, nil)
			},
			checkRes: func(t *testing.T, d *CVDetail) {
				assert.NotNil(t, d.Analysis)
				assert.Equal(t, 77, d.Analysis.OverallScore)
				assert.Empty(t, d.DownloadURL)
			},
		},
		{
			name: "completed cv missing analysis row",
			id:   "done-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "done-id").
					Return(&model.CV{ID: "done-id", StoragePath: "cvs/b.pdf", Status: model.StatusCompleted}, nil)
				mStore.On("PresignGet", ctx, "cvs/b.pdf", time.Minute).Return("", nil)
				mRepo.On("FindAnalysis", ctx, "done-id").Return(nil, sql.ErrNoRows)
			},
			checkRes: func(t *testing.T, d *CVDetail) {
				assert.Nil(t, d.Analysis)
			},
		},
		{
			name:       "validation - empty id",
			id:         "",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) {},
			wantErr:    ErrIDRequired,
		},
		{
			name: "not found - mapping sql.ErrNoRows",
			id:   "missing-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "missing-id").Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockCVRepository)
			svc := NewCVService(mStore, mRepo, nil, time.Minute)

			tt.setupMocks(mStore, mRepo)

			d, err := svc.Get(ctx, tt.id)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, d)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, d)
				if tt.checkRes != nil {
					tt.checkRes(t, d)
				}
			}
			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestCVService_Logs(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		id         string
		setupMocks func(mRepo *repoMocks.MockCVRepository)
		wantErr    error
		wantLen    int
	}{
		{
			name: "happy path",
			id:   "valid-id",
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "valid-id").Return(&model.CV{ID: "valid-id"}, nil)
				mRepo.On("Logs", ctx, "valid-id").Return([]model.ProcessingLogEntry{
					{CVID: "valid-id", Status: model.StatusUploaded},
					{CVID: "valid-id", Status: model.StatusProcessing},
				}, nil)
			},
			wantLen: 2,
		},
		{
			name:       "validation - empty id",
			id:         "",
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {},
			wantErr:    ErrIDRequired,
		},
		{
			name: "not found",
			id:   "missing-id",
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "missing-id").Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockCVRepository)
			svc := NewCVService(nil, mRepo, nil, time.Minute)

			tt.setupMocks(mRepo)

			logs, err := svc.Logs(ctx, tt.id)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.Len(t, logs, tt.wantLen)
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestCVService_Reanalyze(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		id          string
		setupMocks  func(mRepo *repoMocks.MockCVRepository)
		wantErr     error
		wantSubmits int
	}{
		{
			name: "happy path",
			id:   "done-id",
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "done-id").
					Return(&model.CV{ID: "done-id", Status: model.StatusCompleted}, nil)
				mRepo.On("Resubmit", ctx, "done-id").Return(nil)
			},
			wantSubmits: 1,
		},
		{
			name:       "validation - empty id",
			id:         "",
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {},
			wantErr:    ErrIDRequired,
		},
		{
			name: "not found",
			id:   "missing-id",
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "missing-id").Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "not completed - resubmit loses the swap",
			id:   "busy-id",
			setupMocks: func(mRepo *repoMocks.MockCVRepository) {
				mRepo.On("FindByID", ctx, "busy-id").
					Return(&model.CV{ID: "busy-id", Status: model.StatusProcessing}, nil)
				mRepo.On("Resubmit", ctx, "busy-id").Return(repository.ErrClaimConflict)
			},
			wantErr: ErrNotCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockCVRepository)
			sub := &fakeSubmitter{}
			svc := NewCVService(nil, mRepo, sub, time.Minute)

			tt.setupMocks(mRepo)

			err := svc.Reanalyze(ctx, tt.id)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, sub.submitted, tt.wantSubmits)
			mRepo.AssertExpectations(t)
		})
	}
}
