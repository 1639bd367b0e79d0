package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	StatusPending  = "pending"
	StatusAppended = "appended"
	StatusFailed   = "failed"
)

// Submission is the log entry for one submit attempt. Report content is
// never stored; only the outcome and where the row landed.
type Submission struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Status       string    `json:"status"`
	EvidenceKind string    `json:"evidence_kind"`
	UpdatedRange string    `json:"updated_range,omitempty"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}
