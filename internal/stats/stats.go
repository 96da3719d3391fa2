package stats

import (
	"math"
	"time"

	"cvpipeline/internal/repository"
)

// Averages holds the per-dimension mean scores, rounded to the nearest
// integer. An empty data set yields all zeros; that is a defined result, not
// an error.
type Averages struct {
	Experience int `json:"experience"`
	Education  int `json:"education"`
	Skills     int `json:"skills"`
	Overall    int `json:"overall"`
}

// Distribution is the four-bucket histogram over overall scores. Boundaries
// are inclusive-exclusive: excellent >=80, good [60,80), fair [40,60),
// poor <40. The buckets partition the full range, so the counts always sum
// to the number of analyses.
type Distribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
}

// DayCount is one calendar day of upload activity.
type DayCount struct {
	Date  string `json:"date"` // YYYY-MM-DD in the reader's configured zone
	Count int    `json:"count"`
}

// AverageScores computes the arithmetic mean of each dimension with standard
// rounding (half away from zero).
func AverageScores(rows []repository.ScoreRow) Averages {
	if len(rows) == 0 {
		return Averages{}
	}
	var exp, edu, skl, ovr int
	for _, r := range rows {
		exp += r.Experience
		edu += r.Education
		skl += r.Skills
		ovr += r.Overall
	}
	n := float64(len(rows))
	return Averages{
		Experience: int(math.Round(float64(exp) / n)),
		Education:  int(math.Round(float64(edu) / n)),
		Skills:     int(math.Round(float64(skl) / n)),
		Overall:    int(math.Round(float64(ovr) / n)),
	}
}

// Distribute buckets the overall scores.
func Distribute(rows []repository.ScoreRow) Distribution {
	var d Distribution
	for _, r := range rows {
		switch {
		case r.Overall >= 80:
			d.Excellent++
		case r.Overall >= 60:
			d.Good++
		case r.Overall >= 40:
			d.Fair++
		default:
			d.Poor++
		}
	}
	return d
}

// activityDays is the fixed trailing window of the activity histogram,
// including today.
const activityDays = 7

// Activity builds the trailing histogram of uploads per calendar day, oldest
// day first. Timestamps are truncated to calendar dates in loc; uploads
// outside the window are ignored.
func Activity(uploads []time.Time, now time.Time, loc *time.Location) []DayCount {
	today := truncateToDay(now.In(loc))
	start := today.AddDate(0, 0, -(activityDays - 1))

	counts := make(map[string]int, activityDays)
	for _, t := range uploads {
		day := truncateToDay(t.In(loc))
		if day.Before(start) || day.After(today) {
			continue
		}
		counts[day.Format(time.DateOnly)]++
	}

	out := make([]DayCount, 0, activityDays)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		out = append(out, DayCount{Date: key, Count: counts[key]})
	}
	return out
}

// ActivityWindowStart returns the earliest instant that can fall inside the
// activity window ending at now, for bounding the repository query.
func ActivityWindowStart(now time.Time, loc *time.Location) time.Time {
	return truncateToDay(now.In(loc)).AddDate(0, 0, -(activityDays - 1))
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
