package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"cvpipeline/internal/config"
	"cvpipeline/internal/engine"
	"cvpipeline/internal/extract"
	"cvpipeline/internal/model"
	"cvpipeline/internal/repository"
	"cvpipeline/internal/storage"
)

// ErrNonePending is returned by ClaimNext when no CV is eligible for claiming.
var ErrNonePending = errors.New("no cv pending")

// TextExtractor converts stored document content into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, mediaType string, r io.Reader) (string, error)
}

// Orchestrator owns the CV state machine: it claims pending CVs, drives them
// through extraction and analysis, persists the outcome, and applies the
// retry policy. Side effects per Run are strictly one status transition, at
// most one analysis write, and exactly one processing log entry (the
// repository writes transition and log atomically).
type Orchestrator struct {
	repo      repository.CVRepository
	store     storage.Storage
	extractor TextExtractor
	engine    engine.Engine
	cfg       config.PipelineConfig
	metrics   *Metrics

	wake chan struct{}
	now  func() time.Time
}

// NewOrchestrator constructs the pipeline orchestrator. metrics may be nil
// (tests).
func NewOrchestrator(repo repository.CVRepository, store storage.Storage, extractor TextExtractor, eng engine.Engine, cfg config.PipelineConfig, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		store:     store,
		extractor: extractor,
		engine:    eng,
		cfg:       cfg,
		metrics:   metrics,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Submit notifies the workers that a freshly uploaded CV is pending. It never
// blocks and never fails: processing is asynchronous and all outcomes are
// observable only through the CV status and its log.
func (o *Orchestrator) Submit(cv *model.CV) {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// ClaimNext atomically selects the oldest pending CV and transitions it to
// processing. A lost race surfaces from the repository as ErrClaimConflict;
// the loop simply reselects, so conflicts are invisible to the caller, who
// only sees a claimed CV or ErrNonePending.
func (o *Orchestrator) ClaimNext(ctx context.Context) (*model.CV, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := o.now()
		id, status, err := o.repo.NextPending(ctx, now)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNonePending
			}
			return nil, fmt.Errorf("select pending cv: %w", err)
		}

		cv, err := o.repo.Claim(ctx, id, status, now.Add(o.cfg.Lease))
		if err != nil {
			if errors.Is(err, repository.ErrClaimConflict) {
				o.metrics.observeClaimConflict()
				continue
			}
			return nil, fmt.Errorf("claim cv %s: %w", id, err)
		}
		return cv, nil
	}
}

// Run processes one claimed CV: fetch content, extract text, score it, and
// persist the outcome. The CV must be in processing (returned by ClaimNext).
func (o *Orchestrator) Run(ctx context.Context, cv *model.CV) error {
	start := o.now()

	text, res, err := o.process(ctx, cv)
	if err != nil {
		return o.settleFailure(cv, err)
	}

	analysis := &model.Analysis{
		ID:                   uuid.New().String(),
		CVID:                 cv.ID,
		ExperienceScore:      res.ExperienceScore,
		EducationScore:       res.EducationScore,
		SkillsScore:          res.SkillsScore,
		OverallScore:         res.OverallScore,
		ExperienceRationale:  nilIfEmpty(res.ExperienceRationale),
		EducationRationale:   nilIfEmpty(res.EducationRationale),
		SkillsRationale:      nilIfEmpty(res.SkillsRationale),
		Feedback:             nilIfEmpty(res.Feedback),
		YearsExperience:      res.YearsExperience,
		EducationLevel:       res.EducationLevel,
		KeySkills:            res.KeySkills,
		JobTitles:            res.JobTitles,
		Companies:            res.Companies,
		Model:                res.Model,
		ProcessingDurationMs: o.now().Sub(start).Milliseconds(),
		Tokens:               res.Tokens,
	}

	if err := o.repo.Complete(context.WithoutCancel(ctx), cv.ID, text, analysis); err != nil {
		return fmt.Errorf("complete cv %s: %w", cv.ID, err)
	}
	o.metrics.observeRun("completed", o.now().Sub(start).Seconds())
	logJSON(map[string]any{
		"component": "pipeline",
		"event":     "run_completed",
		"cv_id":     cv.ID,
		"overall":   analysis.OverallScore,
		"duration_ms": analysis.ProcessingDurationMs,
	})
	return nil
}

// process performs the two external calls, each under its own timeout.
func (o *Orchestrator) process(ctx context.Context, cv *model.CV) (string, *engine.Result, error) {
	body, _, err := o.store.Get(ctx, cv.StoragePath)
	if err != nil {
		return "", nil, &storeError{err: err}
	}
	defer body.Close()

	extractCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	text, err := o.extractor.Extract(extractCtx, cv.ContentType, body)
	cancel()
	if err != nil {
		return "", nil, fmt.Errorf("extract: %w", err)
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	res, err := o.engine.Analyze(analyzeCtx, engine.Request{Text: text})
	cancel()
	if err != nil {
		return "", nil, fmt.Errorf("analyze: %w", err)
	}
	return text, res, nil
}

// settleFailure routes a failed run to retry or failed per the error class
// and the attempt budget. Shutdown cancellation rolls the CV back to retry
// without consuming budget, so an interrupted run stays recoverable.
func (o *Orchestrator) settleFailure(cv *model.CV, runErr error) error {
	// Status writes must survive the worker's own cancellation.
	ctx := context.Background()
	now := o.now()

	if errors.Is(runErr, context.Canceled) {
		if err := o.repo.MarkRetry(ctx, cv.ID, false, now, "worker shutdown, rescheduled", runErr.Error()); err != nil {
			return fmt.Errorf("rollback cv %s: %w", cv.ID, err)
		}
		o.metrics.observeRun("rescheduled", o.now().Sub(now).Seconds())
		return runErr
	}

	if !transientError(runErr) {
		if err := o.repo.MarkFailed(ctx, cv.ID, "failed", runErr.Error()); err != nil {
			return fmt.Errorf("mark failed cv %s: %w", cv.ID, err)
		}
		o.metrics.observeRun("failed", 0)
		logJSON(map[string]any{
			"component": "pipeline",
			"event":     "run_failed",
			"cv_id":     cv.ID,
			"error":     runErr.Error(),
		})
		return runErr
	}

	attempts := cv.Attempts + 1
	if attempts >= o.cfg.MaxAttempts {
		msg := fmt.Sprintf("failed after %d attempts", attempts)
		if err := o.repo.MarkFailed(ctx, cv.ID, msg, runErr.Error()); err != nil {
			return fmt.Errorf("mark failed cv %s: %w", cv.ID, err)
		}
		o.metrics.observeRun("failed", 0)
		logJSON(map[string]any{
			"component": "pipeline",
			"event":     "run_failed",
			"cv_id":     cv.ID,
			"attempts":  attempts,
			"error":     runErr.Error(),
		})
		return runErr
	}

	nextAttempt := now.Add(time.Duration(attempts) * o.cfg.RetryBackoff)
	if err := o.repo.MarkRetry(ctx, cv.ID, true, nextAttempt, "retry scheduled", runErr.Error()); err != nil {
		return fmt.Errorf("mark retry cv %s: %w", cv.ID, err)
	}
	o.metrics.observeRun("retry", 0)
	logJSON(map[string]any{
		"component": "pipeline",
		"event":     "run_retry",
		"cv_id":     cv.ID,
		"attempt":   attempts,
		"next_at":   nextAttempt.UTC().Format(time.RFC3339),
		"error":     runErr.Error(),
	})
	return runErr
}

// ReleaseExpired sweeps processing CVs whose lease has lapsed back to retry.
func (o *Orchestrator) ReleaseExpired(ctx context.Context) (int, error) {
	n, err := o.repo.ReleaseExpired(ctx, o.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.metrics.observeLeasesReleased(n)
		logJSON(map[string]any{
			"component": "pipeline",
			"event":     "leases_released",
			"count":     n,
		})
	}
	return n, nil
}

// storeError marks a document store read failure; always transient, the
// backoff and attempt budget bound how long a missing object is chased.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return fmt.Sprintf("document store: %v", e.err) }
func (e *storeError) Unwrap() error { return e.err }

// transientError classifies a run failure. Unsupported media types, empty
// text, and malformed engine responses are permanent; everything else (store
// I/O, timeouts, rate limits) is retryable.
func transientError(err error) bool {
	var storeErr *storeError
	if errors.As(err, &storeErr) {
		return true
	}
	var extractErr *extract.Error
	if errors.As(err, &extractErr) {
		return extractErr.Transient
	}
	if errors.Is(err, extract.ErrUnsupportedMediaType) ||
		errors.Is(err, extract.ErrEmptyContent) ||
		errors.Is(err, engine.ErrMalformedResponse) ||
		errors.Is(err, engine.ErrEmptyText) {
		return false
	}
	return engine.Transient(err)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
