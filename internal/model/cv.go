package model

import "time"

// CV represents an uploaded résumé document and its processing state.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, pipeline) without coupling to persistence.
type CV struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename"`
	StoragePath      string     `json:"storage_path"`
	Size             int64      `json:"size"`
	ContentType      string     `json:"content_type"`
	ExtractedText    *string    `json:"-"`
	Status           Status     `json:"status"`
	Attempts         int        `json:"attempts"`
	NextAttemptAt    time.Time  `json:"-"`
	LeaseExpiresAt   *time.Time `json:"-"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
