package model

import "time"

// Analysis is the structured scoring result produced for a CV.
// Exactly one analysis exists per completed CV; the cv_id column carries a
// unique constraint so the 1:1 invariant is enforced at the storage layer.
// A re-analysis run replaces the row atomically with the status change.
type Analysis struct {
	ID                   string    `json:"id"`
	CVID                 string    `json:"cv_id"`
	ExperienceScore      int       `json:"experience_score"`
	EducationScore       int       `json:"education_score"`
	SkillsScore          int       `json:"skills_score"`
	OverallScore         int       `json:"overall_score"`
	ExperienceRationale  *string   `json:"experience_rationale,omitempty"`
	EducationRationale   *string   `json:"education_rationale,omitempty"`
	SkillsRationale      *string   `json:"skills_rationale,omitempty"`
	Feedback             *string   `json:"feedback,omitempty"`
	YearsExperience      *int      `json:"years_experience,omitempty"`
	EducationLevel       *string   `json:"education_level,omitempty"`
	KeySkills            []string  `json:"key_skills"`
	JobTitles            []string  `json:"job_titles"`
	Companies            []string  `json:"companies"`
	Model                string    `json:"model"`
	ProcessingDurationMs int64     `json:"processing_duration_ms"`
	Tokens               *int      `json:"tokens,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
