package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cvpipeline/internal/model"
	"cvpipeline/internal/repository"
)

// CVPostgres is a PostgreSQL implementation of repository.CVRepository.
// It uses database/sql with parameterized queries and contains no business
// logic. Status transitions are conditional updates: the WHERE clause carries
// the expected prior status, and zero affected rows surfaces as
// repository.ErrClaimConflict. Transition and log entry always share a
// transaction so the audit trail counts exactly one entry per transition.
type CVPostgres struct {
	db *sql.DB
}

// NewCVPostgres creates a new CVPostgres repository.
func NewCVPostgres(db *sql.DB) *CVPostgres {
	return &CVPostgres{db: db}
}

var _ repository.CVRepository = (*CVPostgres)(nil)

const cvColumns = `id, owner_id, filename, original_filename, storage_path, size, content_type,
		extracted_text, status, attempts, next_attempt_at, lease_expires_at,
		uploaded_at, processed_at, updated_at`

func scanCV(row interface{ Scan(...any) error }) (*model.CV, error) {
	var cv model.CV
	var status string
	if err := row.Scan(
		&cv.ID,
		&cv.OwnerID,
		&cv.Filename,
		&cv.OriginalFilename,
		&cv.StoragePath,
		&cv.Size,
		&cv.ContentType,
		&cv.ExtractedText,
		&status,
		&cv.Attempts,
		&cv.NextAttemptAt,
		&cv.LeaseExpiresAt,
		&cv.UploadedAt,
		&cv.ProcessedAt,
		&cv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cv.Status = model.Status(status)
	return &cv, nil
}

// Create inserts a new CV row together with its initial "uploaded" log entry.
func (r *CVPostgres) Create(ctx context.Context, cv *model.CV) (*model.CV, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO cvs (id, owner_id, filename, original_filename, storage_path, size, content_type, status, uploaded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING ` + cvColumns
	row := tx.QueryRowContext(ctx, q,
		cv.ID,
		cv.OwnerID,
		cv.Filename,
		cv.OriginalFilename,
		cv.StoragePath,
		cv.Size,
		cv.ContentType,
		string(model.StatusUploaded),
		cv.UploadedAt,
	)
	out, err := scanCV(row)
	if err != nil {
		return nil, err
	}

	if err := appendLog(ctx, tx, out.ID, model.StatusUploaded, "uploaded", ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindByID fetches a single CV by its ID.
func (r *CVPostgres) FindByID(ctx context.Context, id string) (*model.CV, error) {
	const q = `SELECT ` + cvColumns + ` FROM cvs WHERE id = $1`
	return scanCV(r.db.QueryRowContext(ctx, q, id))
}

// FindAnalysis fetches the analysis for a CV.
func (r *CVPostgres) FindAnalysis(ctx context.Context, cvID string) (*model.Analysis, error) {
	const q = `SELECT ` + analysisColumns + ` FROM cv_analyses WHERE cv_id = $1`
	return scanAnalysis(r.db.QueryRowContext(ctx, q, cvID))
}

// ListByOwner returns CVs for one owner using LIMIT/OFFSET pagination and a total count.
func (r *CVPostgres) ListByOwner(ctx context.Context, ownerID string, pq repository.PageQuery) (*repository.PageResult[model.CV], error) {
	const qCount = `SELECT COUNT(*) FROM cvs WHERE owner_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, ownerID).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + cvColumns + `
		FROM cvs
		WHERE owner_id = $1
		ORDER BY uploaded_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, ownerID, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.CV, 0)
	for rows.Next() {
		cv, err := scanCV(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *cv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.CV]{Items: items, Total: total}, nil
}

// NextPending selects the oldest claim-eligible CV. FIFO by upload time so
// older documents are not starved by retries.
func (r *CVPostgres) NextPending(ctx context.Context, now time.Time) (string, model.Status, error) {
	const q = `
		SELECT id, status
		FROM cvs
		WHERE status IN ('uploaded', 'retry') AND next_attempt_at <= $1
		ORDER BY uploaded_at ASC, id ASC
		LIMIT 1
	`
	var id, status string
	if err := r.db.QueryRowContext(ctx, q, now).Scan(&id, &status); err != nil {
		return "", "", err
	}
	return id, model.Status(status), nil
}

// Claim performs the compare-and-swap transition into processing. The WHERE
// clause on the expected status is the concurrency guard: of N workers racing
// for the same CV, exactly one update matches a row.
func (r *CVPostgres) Claim(ctx context.Context, id string, expected model.Status, leaseUntil time.Time) (*model.CV, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const q = `
		UPDATE cvs
		SET status = 'processing', lease_expires_at = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + cvColumns
	cv, err := scanCV(tx.QueryRowContext(ctx, q, id, string(expected), leaseUntil))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrClaimConflict
		}
		return nil, err
	}

	msg := "processing started"
	if expected == model.StatusRetry {
		msg = fmt.Sprintf("retry attempt %d", cv.Attempts+1)
	}
	if err := appendLog(ctx, tx, id, model.StatusProcessing, msg, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cv, nil
}

// MarkRetry transitions processing -> retry with an optional attempt increment.
func (r *CVPostgres) MarkRetry(ctx context.Context, id string, incrementAttempt bool, nextAttemptAt time.Time, message, errDetail string) error {
	inc := 0
	if incrementAttempt {
		inc = 1
	}
	const q = `
		UPDATE cvs
		SET status = 'retry', attempts = attempts + $2, next_attempt_at = $3,
		    lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	return r.transition(ctx, id, model.StatusRetry, message, errDetail, q, id, inc, nextAttemptAt)
}

// MarkFailed transitions processing -> failed.
func (r *CVPostgres) MarkFailed(ctx context.Context, id string, message, errDetail string) error {
	const q = `
		UPDATE cvs
		SET status = 'failed', lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	return r.transition(ctx, id, model.StatusFailed, message, errDetail, q, id)
}

// Resubmit transitions completed -> retry with a reset attempt counter so a
// completed CV can be re-analyzed. The existing analysis row stays in place
// until the next successful run replaces it.
func (r *CVPostgres) Resubmit(ctx context.Context, id string) error {
	const q = `
		UPDATE cvs
		SET status = 'retry', attempts = 0, next_attempt_at = now(),
		    processed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'completed'
	`
	return r.transition(ctx, id, model.StatusRetry, "re-analysis requested", "", q, id)
}

// transition runs a conditional status update plus its log entry in one
// transaction. Zero affected rows means the CAS lost.
func (r *CVPostgres) transition(ctx context.Context, id string, logged model.Status, message, errDetail, query string, args ...any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrClaimConflict
	}

	if err := appendLog(ctx, tx, id, logged, message, errDetail); err != nil {
		return err
	}
	return tx.Commit()
}

const analysisColumns = `id, cv_id, experience_score, education_score, skills_score, overall_score,
		experience_rationale, education_rationale, skills_rationale, feedback,
		years_experience, education_level, key_skills, job_titles, companies,
		model, duration_ms, tokens, created_at, updated_at`

func scanAnalysis(row interface{ Scan(...any) error }) (*model.Analysis, error) {
	var a model.Analysis
	var keySkills, jobTitles, companies []byte
	if err := row.Scan(
		&a.ID,
		&a.CVID,
		&a.ExperienceScore,
		&a.EducationScore,
		&a.SkillsScore,
		&a.OverallScore,
		&a.ExperienceRationale,
		&a.EducationRationale,
		&a.SkillsRationale,
		&a.Feedback,
		&a.YearsExperience,
		&a.EducationLevel,
		&keySkills,
		&jobTitles,
		&companies,
		&a.Model,
		&a.ProcessingDurationMs,
		&a.Tokens,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{
		{keySkills, &a.KeySkills},
		{jobTitles, &a.JobTitles},
		{companies, &a.Companies},
	} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
				return nil, fmt.Errorf("decode fact list: %w", err)
			}
		}
	}
	return &a, nil
}

// Complete transitions processing -> completed and writes the analysis in the
// same transaction. The analysis insert upserts on the unique cv_id so a
// re-analysis run replaces the prior row atomically with the status change.
func (r *CVPostgres) Complete(ctx context.Context, id string, extractedText string, a *model.Analysis) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const qCV = `
		UPDATE cvs
		SET status = 'completed', extracted_text = $2, processed_at = now(),
		    lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := tx.ExecContext(ctx, qCV, id, extractedText)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrClaimConflict
	}

	keySkills, err := json.Marshal(orEmpty(a.KeySkills))
	if err != nil {
		return err
	}
	jobTitles, err := json.Marshal(orEmpty(a.JobTitles))
	if err != nil {
		return err
	}
	companies, err := json.Marshal(orEmpty(a.Companies))
	if err != nil {
		return err
	}

	const qAnalysis = `
		INSERT INTO cv_analyses (id, cv_id, experience_score, education_score, skills_score, overall_score,
			experience_rationale, education_rationale, skills_rationale, feedback,
			years_experience, education_level, key_skills, job_titles, companies,
			model, duration_ms, tokens, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now(), now())
		ON CONFLICT (cv_id) DO UPDATE SET
			experience_score = EXCLUDED.experience_score,
			education_score = EXCLUDED.education_score,
			skills_score = EXCLUDED.skills_score,
			overall_score = EXCLUDED.overall_score,
			experience_rationale = EXCLUDED.experience_rationale,
			education_rationale = EXCLUDED.education_rationale,
			skills_rationale = EXCLUDED.skills_rationale,
			feedback = EXCLUDED.feedback,
			years_experience = EXCLUDED.years_experience,
			education_level = EXCLUDED.education_level,
			key_skills = EXCLUDED.key_skills,
			job_titles = EXCLUDED.job_titles,
			companies = EXCLUDED.companies,
			model = EXCLUDED.model,
			duration_ms = EXCLUDED.duration_ms,
			tokens = EXCLUDED.tokens,
			updated_at = now()
	`
	if _, err := tx.ExecContext(ctx, qAnalysis,
		a.ID,
		id,
		a.ExperienceScore,
		a.EducationScore,
		a.SkillsScore,
		a.OverallScore,
		a.ExperienceRationale,
		a.EducationRationale,
		a.SkillsRationale,
		a.Feedback,
		a.YearsExperience,
		a.EducationLevel,
		keySkills,
		jobTitles,
		companies,
		a.Model,
		a.ProcessingDurationMs,
		a.Tokens,
	); err != nil {
		return err
	}

	if err := appendLog(ctx, tx, id, model.StatusCompleted, "completed", ""); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseExpired flips processing rows with an expired lease back to retry so
// a crashed worker's claim does not strand the CV. The attempt counter is not
// incremented: an abandoned run is not a failed run.
func (r *CVPostgres) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	const q = `
		UPDATE cvs
		SET status = 'retry', next_attempt_at = $1, lease_expires_at = NULL, updated_at = now()
		WHERE status = 'processing' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1
		RETURNING id
	`
	rows, err := tx.QueryContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if err := appendLog(ctx, tx, id, model.StatusRetry, "claim lease expired, rescheduled", ""); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Logs returns the audit trail for a CV ordered by creation time.
func (r *CVPostgres) Logs(ctx context.Context, cvID string) ([]model.ProcessingLogEntry, error) {
	const q = `
		SELECT id, cv_id, status, message, error_detail, created_at
		FROM cv_processing_logs
		WHERE cv_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, q, cvID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.ProcessingLogEntry, 0)
	for rows.Next() {
		var e model.ProcessingLogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.CVID, &status, &e.Message, &e.ErrorDetail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = model.Status(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func appendLog(ctx context.Context, tx *sql.Tx, cvID string, status model.Status, message, errDetail string) error {
	const q = `
		INSERT INTO cv_processing_logs (id, cv_id, status, message, error_detail, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), now())
	`
	_, err := tx.ExecContext(ctx, q, uuid.New().String(), cvID, string(status), message, errDetail)
	return err
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
