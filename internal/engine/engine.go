package engine

import (
	"context"
	"errors"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// Request carries the extracted CV text plus optional scoring context.
type Request struct {
	Text       string
	TargetRole string
	Locale     string
}

// Result is the validated scoring output of the analysis engine. Scores are
// guaranteed to be in [0,100] by the time a Result is returned; out-of-range
// or missing scores are rejected as malformed rather than clamped, so
// upstream data-quality issues surface instead of being hidden.
type Result struct {
	ExperienceScore     int
	EducationScore      int
	SkillsScore         int
	OverallScore        int
	ExperienceRationale string
	EducationRationale  string
	SkillsRationale     string
	Feedback            string
	YearsExperience     *int
	EducationLevel      *string
	KeySkills           []string
	JobTitles           []string
	Companies           []string
	Model               string
	Tokens              *int
}

// Engine is the analysis backend boundary. Implementations are expected to be
// non-deterministic (generative models): each call is a best-effort estimate,
// and a retry must not assume identical output.
type Engine interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// ErrMalformedResponse marks an engine response that failed validation:
// missing required score fields, scores outside [0,100], or undecodable
// payloads. Always a permanent failure.
var ErrMalformedResponse = errors.New("malformed engine response")

// ErrEmptyText is returned when Analyze is called with no text to score.
var ErrEmptyText = errors.New("no text to analyze")

// Transient reports whether an engine error is worth retrying: timeouts,
// rate limits, connection-level failures, and server errors. Validation
// failures and client-side API errors are permanent.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		// Status 0 means the request never reached the API (connection-level).
		return reqErr.HTTPStatusCode == 0 || retryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
