package postgres

import (
	"context"
	"database/sql"
	"time"

	"cvpipeline/internal/repository"
)

// StatsPostgres is a PostgreSQL implementation of repository.StatsRepository.
// Read-only: it fetches rows and leaves all derived computation to the stats
// package so the aggregation path stays deterministic and unit-testable.
type StatsPostgres struct {
	db *sql.DB
}

// NewStatsPostgres creates a new StatsPostgres repository.
func NewStatsPostgres(db *sql.DB) *StatsPostgres {
	return &StatsPostgres{db: db}
}

var _ repository.StatsRepository = (*StatsPostgres)(nil)

// Scores returns the analysis score tuples for the owner's completed CVs.
func (r *StatsPostgres) Scores(ctx context.Context, ownerID string) ([]repository.ScoreRow, error) {
	const q = `
		SELECT a.experience_score, a.education_score, a.skills_score, a.overall_score
		FROM cv_analyses a
		JOIN cvs c ON c.id = a.cv_id
		WHERE c.owner_id = $1 AND c.status = 'completed'
	`
	rows, err := r.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]repository.ScoreRow, 0)
	for rows.Next() {
		var s repository.ScoreRow
		if err := rows.Scan(&s.Experience, &s.Education, &s.Skills, &s.Overall); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadTimes returns the owner's upload timestamps at or after since.
func (r *StatsPostgres) UploadTimes(ctx context.Context, ownerID string, since time.Time) ([]time.Time, error) {
	const q = `
		SELECT uploaded_at
		FROM cvs
		WHERE owner_id = $1 AND uploaded_at >= $2
		ORDER BY uploaded_at ASC
	`
	rows, err := r.db.QueryContext(ctx, q, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]time.Time, 0)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Recent returns the owner's newest CVs with analyses joined in.
func (r *StatsPostgres) Recent(ctx context.Context, ownerID string, limit int) ([]repository.RecentCV, error) {
	const q = `
		SELECT ` + cvColumns + `
		FROM cvs
		WHERE owner_id = $1
		ORDER BY uploaded_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, q, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]repository.RecentCV, 0)
	for rows.Next() {
		cv, err := scanCV(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, repository.RecentCV{CV: *cv})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Second query per page keeps the row scanning simple; the page is small
	// (dashboard recent list), so N+1 here is bounded by the limit.
	for i := range out {
		if out[i].CV.Status != "completed" {
			continue
		}
		const qa = `SELECT ` + analysisColumns + ` FROM cv_analyses WHERE cv_id = $1`
		a, err := scanAnalysis(r.db.QueryRowContext(ctx, qa, out[i].CV.ID))
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		out[i].Analysis = a
	}
	return out, nil
}
