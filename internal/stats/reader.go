package stats

import (
	"context"
	"fmt"
	"time"

	"cvpipeline/internal/config"
	"cvpipeline/internal/model"
	"cvpipeline/internal/repository"
	"cvpipeline/internal/storage"
)

// Overview is the dashboard aggregate for one user.
type Overview struct {
	AverageScores     Averages     `json:"average_scores"`
	ScoreDistribution Distribution `json:"score_distribution"`
	RecentActivity    []DayCount   `json:"recent_activity"`
	RecentDocuments   []RecentItem `json:"recent_documents"`
}

// RecentItem is one recent CV with its analysis attached when present.
type RecentItem struct {
	ID          string          `json:"id"`
	Filename    string          `json:"filename"`
	DownloadURL string          `json:"download_url,omitempty"`
	Size        int64           `json:"size"`
	Status      model.Status    `json:"status"`
	UploadedAt  time.Time       `json:"uploaded_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Analysis    *model.Analysis `json:"analysis,omitempty"`
}

// Reader computes dashboard statistics from persisted analyses. It is
// stateless and side-effect-free: everything is recomputed from the
// repository on each request, so results are always fresh.
type Reader struct {
	repo        repository.StatsRepository
	store       storage.Storage
	loc         *time.Location
	recentLimit int
	downloadTTL time.Duration
	now         func() time.Time
}

// NewReader constructs the aggregation reader. The configured timezone must
// be a valid IANA name; it anchors calendar-day truncation so activity
// histograms do not depend on the host's local zone.
func NewReader(repo repository.StatsRepository, store storage.Storage, cfg config.StatsConfig) (*Reader, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load stats timezone %q: %w", cfg.Timezone, err)
	}
	return &Reader{
		repo:        repo,
		store:       store,
		loc:         loc,
		recentLimit: cfg.RecentLimit,
		downloadTTL: cfg.DownloadTTL,
		now:         time.Now,
	}, nil
}

// Overview assembles the full dashboard aggregate for one owner. An owner
// with no CVs gets zeros and empty lists, never an error.
func (r *Reader) Overview(ctx context.Context, ownerID string) (*Overview, error) {
	scores, err := r.repo.Scores(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}

	now := r.now()
	uploads, err := r.repo.UploadTimes(ctx, ownerID, ActivityWindowStart(now, r.loc))
	if err != nil {
		return nil, fmt.Errorf("load upload times: %w", err)
	}

	recent, err := r.repo.Recent(ctx, ownerID, r.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent cvs: %w", err)
	}

	items := make([]RecentItem, 0, len(recent))
	for _, rc := range recent {
		item := RecentItem{
			ID:          rc.CV.ID,
			Filename:    rc.CV.OriginalFilename,
			Size:        rc.CV.Size,
			Status:      rc.CV.Status,
			UploadedAt:  rc.CV.UploadedAt,
			ProcessedAt: rc.CV.ProcessedAt,
			Analysis:    rc.Analysis,
		}
		url, err := r.store.PresignGet(ctx, rc.CV.StoragePath, r.downloadTTL)
		if err == nil {
			item.DownloadURL = url
		}
		items = append(items, item)
	}

	return &Overview{
		AverageScores:     AverageScores(scores),
		ScoreDistribution: Distribute(scores),
		RecentActivity:    Activity(uploads, now, r.loc),
		RecentDocuments:   items,
	}, nil
}
