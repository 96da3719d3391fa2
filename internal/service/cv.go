package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cvpipeline/internal/model"
	"cvpipeline/internal/repository"
	"cvpipeline/internal/storage"
)

var (
	ErrIDRequired    = errors.New("id is required")
	ErrOwnerRequired = errors.New("owner id is required")
	ErrNotFound      = errors.New("cv not found")
	ErrReaderNil     = errors.New("reader is nil")
	ErrEmptyFile     = errors.New("file is empty")
	ErrNotCompleted  = errors.New("cv is not completed")
)

// CVListResult is the service-level DTO for paginated CVs.
type CVListResult struct {
	Items []model.CV `json:"data"`
	Total int        `json:"total"`
}

// CVDetail is a CV with its analysis attached when one exists.
type CVDetail struct {
	model.CV
	DownloadURL string          `json:"download_url,omitempty"`
	Analysis    *model.Analysis `json:"analysis,omitempty"`
}

// Submitter notifies the pipeline that a CV is pending. Processing is
// asynchronous; Submit never blocks and never reports an error back to the
// uploader.
type Submitter interface {
	Submit(cv *model.CV)
}

// CVService defines the use cases for handling CVs.
type CVService interface {
	// Upload stores the content in object storage, creates the CV record in
	// the uploaded state, and hands it to the pipeline. Storage is rolled
	// back if the record cannot be saved.
	// originalFilename is kept for display; the stored name is UUID + extension.
	Upload(ctx context.Context, r io.Reader, ownerID, originalFilename, contentType string, size int64) (*model.CV, error)

	// List returns the owner's CVs using limit/offset and a total count.
	List(ctx context.Context, ownerID string, limit, offset int) (*CVListResult, error)

	// Get returns a single CV with its analysis and a presigned download URL.
	Get(ctx context.Context, id string) (*CVDetail, error)

	// Logs returns the CV's processing audit trail.
	Logs(ctx context.Context, id string) ([]model.ProcessingLogEntry, error)

	// Reanalyze re-queues a completed CV for a fresh pipeline run. The prior
	// analysis stays visible until the new run replaces it.
	Reanalyze(ctx context.Context, id string) error
}

// cvService is a concrete implementation of CVService.
type cvService struct {
	store       storage.Storage
	repo        repository.CVRepository
	submitter   Submitter
	downloadTTL time.Duration
}

// NewCVService constructs a new CVService.
func NewCVService(store storage.Storage, repo repository.CVRepository, submitter Submitter, downloadTTL time.Duration) CVService {
	return &cvService{store: store, repo: repo, submitter: submitter, downloadTTL: downloadTTL}
}

func (s *cvService) Upload(ctx context.Context, r io.Reader, ownerID, originalFilename, contentType string, size int64) (*model.CV, error) {
	if r == nil {
		return nil, ErrReaderNil
	}
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	if size <= 0 {
		return nil, ErrEmptyFile
	}

	// Generate filename using UUID + extension
	ext := filepath.Ext(originalFilename)
	genName := uuid.New().String() + ext
	key := filepath.ToSlash(filepath.Join("cvs", genName))

	// Upload to object storage
	objInfo, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": originalFilename,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	cv := &model.CV{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		Filename:         genName,
		OriginalFilename: originalFilename,
		StoragePath:      objInfo.Key,
		Size:             objInfo.Size,
		ContentType:      contentType,
		Status:           model.StatusUploaded,
		UploadedAt:       time.Now().UTC(),
	}
	stored, err := s.repo.Create(ctx, cv)
	if err != nil {
		// Rollback: delete the object from storage
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	if s.submitter != nil {
		s.submitter.Submit(stored)
	}
	return stored, nil
}

// List returns paginated CVs without exposing repository types.
func (s *cvService) List(ctx context.Context, ownerID string, limit, offset int) (*CVListResult, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.ListByOwner(ctx, ownerID, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &CVListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a CV by ID with its analysis when the run has completed.
func (s *cvService) Get(ctx context.Context, id string) (*CVDetail, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	cv, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	detail := &CVDetail{CV: *cv}
	if url, err := s.store.PresignGet(ctx, cv.StoragePath, s.downloadTTL); err == nil {
		detail.DownloadURL = url
	}

	if cv.Status == model.StatusCompleted {
		a, err := s.repo.FindAnalysis(ctx, cv.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		detail.Analysis = a
	}
	return detail, nil
}

// Logs returns the audit trail for a CV.
func (s *cvService) Logs(ctx context.Context, id string) ([]model.ProcessingLogEntry, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.repo.Logs(ctx, id)
}

// Reanalyze moves a completed CV back into the retry queue.
func (s *cvService) Reanalyze(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	cv, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if err := s.repo.Resubmit(ctx, id); err != nil {
		if errors.Is(err, repository.ErrClaimConflict) {
			return ErrNotCompleted
		}
		return err
	}
	if s.submitter != nil {
		s.submitter.Submit(cv)
	}
	return nil
}
