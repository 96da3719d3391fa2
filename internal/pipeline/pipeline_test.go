package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"cvpipeline/internal/config"
	"cvpipeline/internal/engine"
	engineMocks "cvpipeline/internal/engine/mocks"
	"cvpipeline/internal/extract"
	"cvpipeline/internal/model"
	"cvpipeline/internal/repository"
	repoMocks "cvpipeline/internal/repository/mocks"
	"cvpipeline/internal/storage"
	storeMocks "cvpipeline/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeExtractor returns canned text or a canned error.
type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, mediaType string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

var testPolicy = config.PipelineConfig{
	Workers:         2,
	MaxAttempts:     3,
	RetryBackoff:    30 * time.Second,
	Lease:           2 * time.Minute,
	CallTimeout:     time.Minute,
	ClaimInterval:   time.Second,
	JanitorInterval: time.Second,
}

func newTestOrchestrator(repo repository.CVRepository, store storage.Storage, ext TextExtractor, eng engine.Engine) (*Orchestrator, time.Time) {
	orch := NewOrchestrator(repo, store, ext, eng, testPolicy, nil)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return now }
	return orch, now
}

func validResult() *engine.Result {
	return &engine.Result{
		ExperienceScore: 75,
		EducationScore:  60,
		SkillsScore:     85,
		OverallScore:    73,
		Feedback:        "solid",
		KeySkills:       []string{"go"},
		Model:           "gpt-4o-mini",
	}
}

func TestClaimNext(t *testing.T) {
	ctx := context.Background()

	t.Run("claims the selected candidate", func(t *testing.T) {
		mRepo := new(repoMocks.MockCVRepository)
		orch, now := newTestOrchestrator(mRepo, nil, nil, nil)

		claimed := &model.CV{ID: "cv-1", Status: model.StatusProcessing}
		mRepo.On("NextPending", ctx, now).Return("cv-1", model.StatusUploaded, nil).Once()
		mRepo.On("Claim", ctx, "cv-1", model.StatusUploaded, now.Add(testPolicy.Lease)).
			Return(claimed, nil).Once()

		cv, err := orch.ClaimNext(ctx)

		require.NoError(t, err)
		assert.Equal(t, "cv-1", cv.ID)
		mRepo.AssertExpectations(t)
	})

	t.Run("nothing pending", func(t *testing.T) {
		mRepo := new(repoMocks.MockCVRepository)
		orch, _ := newTestOrchestrator(mRepo, nil, nil, nil)

		mRepo.On("NextPending", ctx, mock.Anything).
			Return("", model.Status(""), sql.ErrNoRows).Once()

		_, err := orch.ClaimNext(ctx)
		assert.ErrorIs(t, err, ErrNonePending)
		mRepo.AssertExpectations(t)
	})

	t.Run("lost race reselects until it wins", func(t *testing.T) {
		mRepo := new(repoMocks.MockCVRepository)
		orch, _ := newTestOrchestrator(mRepo, nil, nil, nil)

		// Another worker wins cv-1; this one must move on to cv-2.
		mRepo.On("NextPending", ctx, mock.Anything).
			Return("cv-1", model.StatusUploaded, nil).Once()
		mRepo.On("Claim", ctx, "cv-1", model.StatusUploaded, mock.Anything).
			Return(nil, repository.ErrClaimConflict).Once()
		mRepo.On("NextPending", ctx, mock.Anything).
			Return("cv-2", model.StatusRetry, nil).Once()
		claimed := &model.CV{ID: "cv-2", Status: model.StatusProcessing, Attempts: 1}
		mRepo.On("Claim", ctx, "cv-2", model.StatusRetry, mock.Anything).
			Return(claimed, nil).Once()

		cv, err := orch.ClaimNext(ctx)

		require.NoError(t, err)
		assert.Equal(t, "cv-2", cv.ID)
		mRepo.AssertExpectations(t)
	})

	t.Run("canceled context stops the loop", func(t *testing.T) {
		mRepo := new(repoMocks.MockCVRepository)
		orch, _ := newTestOrchestrator(mRepo, nil, nil, nil)

		canceled, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := orch.ClaimNext(canceled)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRun_Success(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockCVRepository)
	mStore := new(storeMocks.MockStorage)
	mEngine := new(engineMocks.MockEngine)

	orch, _ := newTestOrchestrator(mRepo, mStore, &fakeExtractor{text: "extracted cv text"}, mEngine)

	cv := &model.CV{ID: "cv-1", StoragePath: "cvs/a.pdf", ContentType: "application/pdf", Status: model.StatusProcessing}

	mStore.On("Get", mock.Anything, "cvs/a.pdf").
		Return(io.NopCloser(strings.NewReader("%PDF...")), storage.ObjectInfo{}, nil).Once()
	mEngine.On("Analyze", mock.Anything, engine.Request{Text: "extracted cv text"}).
		Return(validResult(), nil).Once()
	mRepo.On("Complete", mock.Anything, "cv-1", "extracted cv text", mock.MatchedBy(func(a *model.Analysis) bool {
		return a.CVID == "cv-1" &&
			a.OverallScore == 73 &&
			a.ExperienceScore == 75 &&
			a.Model == "gpt-4o-mini" &&
			a.ID != ""
	})).Return(nil).Once()

	err := orch.Run(ctx, cv)

	require.NoError(t, err)
	mRepo.AssertExpectations(t)
	mStore.AssertExpectations(t)
	mEngine.AssertExpectations(t)
}

func TestRun_EmptyContentFailsPermanently(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockCVRepository)
	mStore := new(storeMocks.MockStorage)

	orch, _ := newTestOrchestrator(mRepo, mStore, &fakeExtractor{err: extract.ErrEmptyContent}, nil)

	cv := &model.CV{ID: "cv-1", StoragePath: "cvs/a.txt", ContentType: "text/plain", Status: model.StatusProcessing}

	mStore.On("Get", mock.Anything, "cvs/a.txt").
		Return(io.NopCloser(strings.NewReader("")), storage.ObjectInfo{}, nil).Once()
	// Straight to failed: no retry, no analysis write.
	mRepo.On("MarkFailed", mock.Anything, "cv-1", "failed", mock.MatchedBy(func(detail string) bool {
		return strings.Contains(detail, extract.ErrEmptyContent.Error())
	})).Return(nil).Once()

	err := orch.Run(ctx, cv)

	assert.ErrorIs(t, err, extract.ErrEmptyContent)
	mRepo.AssertExpectations(t)
	mRepo.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mRepo.AssertNotCalled(t, "MarkRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_UnsupportedMediaTypeFailsPermanently(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockCVRepository)
	mStore := new(storeMocks.MockStorage)

	extErr := fmt.Errorf("%w: image/png", extract.ErrUnsupportedMediaType)
	orch, _ := newTestOrchestrator(mRepo, mStore, &fakeExtractor{err: extErr}, nil)

	cv := &model.CV{ID: "cv-1", StoragePath: "cvs/a.png", ContentType: "image/png", Status: model.StatusProcessing}

	mStore.On("Get", mock.Anything, "cvs/a.png").
		Return(io.NopCloser(strings.NewReader("png")), storage.ObjectInfo{}, nil).Once()
	mRepo.On("MarkFailed", mock.Anything, "cv-1", "failed", mock.Anything).Return(nil).Once()

	err := orch.Run(ctx, cv)

	assert.ErrorIs(t, err, extract.ErrUnsupportedMediaType)
	mRepo.AssertExpectations(t)
}

func TestRun_TransientFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockCVRepository)
	mStore := new(storeMocks.MockStorage)
	mEngine := new(engineMocks.MockEngine)

	orch, now := newTestOrchestrator(mRepo, mStore, &fakeExtractor{text: "text"}, mEngine)

	// First failure of a fresh CV: one attempt consumed, backoff of one step.
	cv := &model.CV{ID: "cv-1", StoragePath: "cvs/a.txt", ContentType: "text/plain", Status: model.StatusProcessing, Attempts: 0}

	mStore.On("Get", mock.Anything, "cvs/a.txt").
		Return(io.NopCloser(strings.NewReader("x")), storage.ObjectInfo{}, nil).Once()
	mEngine.On("Analyze", mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded).Once()
	mRepo.On("MarkRetry", mock.Anything, "cv-1", true, now.Add(1*testPolicy.RetryBackoff), "retry scheduled", mock.Anything).
		Return(nil).Once()

	err := orch.Run(ctx, cv)

	assert.Error(t, err)
	mRepo.AssertExpectations(t)
}

func TestRun_SecondTransientFailureBacksOffFurther(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockCVRepository)
	mStore := new(storeMocks.MockStorage)
	mEngine := new(engineMocks.MockEngine)

	orch, now := newTestOrchestrator(mRepo, mStore, &fakeExtractor{text: "text"}, mEngine)

	cv := &model.CV{ID: "cv-1", StoragePath: "cvs/a.txt", ContentType: "text/plain", Status: model.StatusProcessing, Attempts: 1}

	mStore.On("Get", mock.Anything, "cvs/a.txt").
		Return(io.NopCloser(strings.NewReader("x")), storage.ObjectInfo{}, nil).Once()
	mEngine.On("Analyze", mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded).Once()
	mRepo.On("MarkRetry", mock.Anything, "cv-1", true, now.Add(2*testPolicy.RetryBackoff), "retry scheduled", mock.Anything).
		Return(nil).Once()

	err := orch.Run(ctx, cv)

	assert.Error(t, err)
	mRepo.AssertExpectations(t)
}

func TestRun_BudgetExhaustionFails(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockCVRepository)
	mStore := new(storeMocks.MockStorage)
	mEngine := new(engineMocks.MockEngine)

	orch, _ := newTestOrchestrator(mRepo, mStore, &fakeExtractor{text: "text"}, mEngine)

	// Two attempts already consumed; this third transient failure exhausts
	// the budget of three.
	cv := &model.CV{ID: "cv-1", StoragePath: "cvs/a.txt", ContentType: "text/plain", Status: model.StatusProcessing, Attempts: 2}

	mStore.On("Get", mock.Anything, "cvs/a.txt").
		Return(io.NopCloser(strings.NewReader("x")), storage.ObjectInfo{}, nil).Once()
	mEngine.On("Analyze", mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded).Once()
	mRepo.On("MarkFailed", mock.Anything, "cv-1", "failed after 3 attempts", mock.Anything).
		Return(nil).Once()

	err := orch.Run(ctx, cv)

	assert.Error(t, err)
	mRepo.AssertExpectations(t)
	mRepo.AssertNotCalled(t, "MarkRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_StoreFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockCVRepository)
	mStore := new(storeMocks.MockStorage)

	orch, _ := newTestOrchestrator(mRepo, mStore, &fakeExtractor{text: "text"}, nil)

	cv := &model.CV{ID: "cv-1", StoragePath: "cvs/a.txt", ContentType: "text/plain", Status: model.StatusProcessing}

	mStore.On("Get", mock.Anything, "cvs/a.txt").
		Return(nil, storage.ObjectInfo{}, errors.New("connection refused")).Once()
	mRepo.On("MarkRetry", mock.Anything, "cv-1", true, mock.Anything, "retry scheduled", mock.Anything).
		Return(nil).Once()

	err := orch.Run(ctx, cv)

	assert.Error(t, err)
	mRepo.AssertExpectations(t)
}

func TestRun_ShutdownRollsBackWithoutConsumingBudget(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockCVRepository)
	mStore := new(storeMocks.MockStorage)
	mEngine := new(engineMocks.MockEngine)

	orch, now := newTestOrchestrator(mRepo, mStore, &fakeExtractor{text: "text"}, mEngine)

	cv := &model.CV{ID: "cv-1", StoragePath: "cvs/a.txt", ContentType: "text/plain", Status: model.StatusProcessing, Attempts: 1}

	mStore.On("Get", mock.Anything, "cvs/a.txt").
		Return(io.NopCloser(strings.NewReader("x")), storage.ObjectInfo{}, nil).Once()
	mEngine.On("Analyze", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("analyze interrupted: %w", context.Canceled)).Once()
	// Attempt counter untouched, eligible immediately.
	mRepo.On("MarkRetry", mock.Anything, "cv-1", false, now, "worker shutdown, rescheduled", mock.Anything).
		Return(nil).Once()

	err := orch.Run(ctx, cv)

	assert.ErrorIs(t, err, context.Canceled)
	mRepo.AssertExpectations(t)
	mRepo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReleaseExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("passes through the count", func(t *testing.T) {
		mRepo := new(repoMocks.MockCVRepository)
		orch, now := newTestOrchestrator(mRepo, nil, nil, nil)

		mRepo.On("ReleaseExpired", ctx, now).Return(2, nil).Once()

		n, err := orch.ReleaseExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		mRepo.AssertExpectations(t)
	})

	t.Run("propagates repository errors", func(t *testing.T) {
		mRepo := new(repoMocks.MockCVRepository)
		orch, _ := newTestOrchestrator(mRepo, nil, nil, nil)

		mRepo.On("ReleaseExpired", ctx, mock.Anything).Return(0, errors.New("db fail")).Once()

		_, err := orch.ReleaseExpired(ctx)
		assert.Error(t, err)
	})
}

func TestTransientErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "store error", err: &storeError{err: errors.New("refused")}, want: true},
		{name: "wrapped store error", err: fmt.Errorf("run: %w", &storeError{err: errors.New("x")}), want: true},
		{name: "transient extraction error", err: &extract.Error{Transient: true, Err: errors.New("read")}, want: true},
		{name: "permanent extraction error", err: &extract.Error{Err: errors.New("bad pdf")}, want: false},
		{name: "unsupported media type", err: extract.ErrUnsupportedMediaType, want: false},
		{name: "empty content", err: extract.ErrEmptyContent, want: false},
		{name: "malformed engine response", err: engine.ErrMalformedResponse, want: false},
		{name: "engine timeout", err: context.DeadlineExceeded, want: true},
		{name: "unknown error", err: errors.New("mystery"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transientError(tt.err))
		})
	}
}

func TestSubmitNeverBlocks(t *testing.T) {
	orch, _ := newTestOrchestrator(new(repoMocks.MockCVRepository), nil, nil, nil)

	// No worker is draining the wake channel; repeated submits must not block.
	for i := 0; i < 10; i++ {
		orch.Submit(&model.CV{ID: "cv-1"})
	}
}
