package model

import "time"

// ProcessingLogEntry is one immutable audit record of a status transition.
// Entries are append-only: one per transition, never mutated or deleted,
// ordered by CreatedAt for audit replay.
type ProcessingLogEntry struct {
	ID          string    `json:"id"`
	CVID        string    `json:"cv_id"`
	Status      Status    `json:"status"`
	Message     *string   `json:"message,omitempty"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
