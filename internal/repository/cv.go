package repository

import (
	"context"
	"errors"
	"time"

	"cvpipeline/internal/model"
)

// ErrClaimConflict is returned when a conditional status transition found the
// row in a different state than expected, meaning a concurrent worker won the
// race. It is benign: the caller should select another CV, not fail the
// pipeline.
var ErrClaimConflict = errors.New("claim conflict: cv status changed concurrently")

// CVRepository defines data access for CVs, their analyses, and the
// processing audit log, using SQL queries only. No business logic here —
// strictly persistence operations. Every status transition writes exactly one
// processing log entry in the same transaction as the status update.
type CVRepository interface {
	// Create inserts a new CV record in the uploaded state together with its
	// initial "uploaded" log entry. Returns the stored CV.
	Create(ctx context.Context, cv *model.CV) (*model.CV, error)

	// FindByID returns a CV by its ID.
	FindByID(ctx context.Context, id string) (*model.CV, error)

	// FindAnalysis returns the analysis for a CV, or sql.ErrNoRows if none exists.
	FindAnalysis(ctx context.Context, cvID string) (*model.Analysis, error)

	// ListByOwner returns a paginated list of CVs for one owner, newest first.
	ListByOwner(ctx context.Context, ownerID string, pq PageQuery) (*PageResult[model.CV], error)

	// NextPending returns the ID and current status of the oldest CV that is
	// eligible for claiming (status uploaded or retry, next_attempt_at due),
	// or sql.ErrNoRows when none is pending. Selection and claiming are
	// deliberately separate steps: Claim is the atomic guard.
	NextPending(ctx context.Context, now time.Time) (string, model.Status, error)

	// Claim conditionally transitions a CV from the expected status to
	// processing, sets the lease expiry, and appends a log entry. Returns
	// ErrClaimConflict if the stored status no longer matches expected.
	Claim(ctx context.Context, id string, expected model.Status, leaseUntil time.Time) (*model.CV, error)

	// MarkRetry transitions processing -> retry, optionally incrementing the
	// attempt counter (shutdown rollbacks do not consume budget), and sets
	// the next eligible claim time. Returns ErrClaimConflict if the CV is not
	// in processing.
	MarkRetry(ctx context.Context, id string, incrementAttempt bool, nextAttemptAt time.Time, message, errDetail string) error

	// MarkFailed transitions processing -> failed (terminal) with an error
	// detail. Returns ErrClaimConflict if the CV is not in processing.
	MarkFailed(ctx context.Context, id string, message, errDetail string) error

	// Complete transitions processing -> completed, stores the extracted
	// text, sets processed_at, and writes the analysis in the same
	// transaction. A prior analysis row is replaced (upsert on the unique
	// cv_id), preserving the one-analysis-per-CV invariant across
	// re-analysis runs. Returns ErrClaimConflict if the CV is not in
	// processing.
	Complete(ctx context.Context, id string, extractedText string, a *model.Analysis) error

	// Resubmit conditionally transitions completed -> retry so the CV can be
	// re-driven through the pipeline. Attempts are reset to zero.
	Resubmit(ctx context.Context, id string) error

	// ReleaseExpired flips processing CVs whose lease has expired back to
	// retry (with a log entry each) so abandoned claims are recoverable.
	// Returns the number of released rows.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)

	// Logs returns the processing log entries for a CV ordered by creation time.
	Logs(ctx context.Context, cvID string) ([]model.ProcessingLogEntry, error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
