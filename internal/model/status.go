package model

// Status is the processing state of a CV.
//
// Lifecycle: a CV is created in StatusUploaded, claimed into StatusProcessing
// by exactly one pipeline worker, and ends in StatusCompleted or StatusFailed.
// StatusRetry marks a transient failure that is eligible for re-claiming.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
)

// ClaimableStatuses are the states from which a worker may claim a CV.
var ClaimableStatuses = []Status{StatusUploaded, StatusRetry}

// transitions is the allowed state machine. StatusCompleted additionally
// allows StatusRetry so that a completed CV can be re-driven through the
// pipeline (re-analysis); the prior analysis is replaced atomically on the
// next successful run.
var transitions = map[Status][]Status{
	StatusUploaded:   {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusRetry},
	StatusRetry:      {StatusProcessing},
	StatusCompleted:  {StatusRetry},
	StatusFailed:     {},
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an end state for a pipeline run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
