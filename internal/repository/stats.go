package repository

import (
	"context"
	"time"

	"cvpipeline/internal/model"
)

// ScoreRow is one analysis score tuple for aggregation.
type ScoreRow struct {
	Experience int
	Education  int
	Skills     int
	Overall    int
}

// RecentCV is a CV with its analysis attached when one exists.
type RecentCV struct {
	CV       model.CV
	Analysis *model.Analysis
}

// StatsRepository defines the read-only queries backing the aggregation
// reader. All derived computation (averages, buckets, histograms) happens in
// the stats package; these methods only fetch rows.
type StatsRepository interface {
	// Scores returns the score tuples of all analyses belonging to completed
	// CVs owned by the given user.
	Scores(ctx context.Context, ownerID string) ([]ScoreRow, error)

	// UploadTimes returns upload timestamps of the owner's CVs at or after
	// since, regardless of status.
	UploadTimes(ctx context.Context, ownerID string, since time.Time) ([]time.Time, error)

	// Recent returns the owner's most recent CVs (by upload time, newest
	// first) with analyses embedded where present.
	Recent(ctx context.Context, ownerID string, limit int) ([]RecentCV, error)
}
