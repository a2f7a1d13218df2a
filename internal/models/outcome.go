package models

import (
	"time"
)

type UploadStatus string

const (
	StatusCreated  UploadStatus = "created"
	StatusUpdated  UploadStatus = "updated"
	StatusRejected UploadStatus = "rejected"
	StatusSkipped  UploadStatus = "skipped"
	StatusFailed   UploadStatus = "failed"
)

type SkipReason string

const (
	ReasonNoImages       SkipReason = "no-images"
	ReasonNoValidImages  SkipReason = "no-valid-images"
	ReasonInvalidFields  SkipReason = "invalid-fields"
	ReasonAlreadyExists  SkipReason = "already-exists-conflict"
	ReasonAlreadySynced  SkipReason = "already-synced"
)

// UploadOutcome is the terminal result of one product's trip through the
// upload pipeline. Exactly one of the status values applies; Reason is set
// for rejected/skipped, Err for failed.
type UploadOutcome struct {
	Reference        string       `json:"referencia"`
	Name             string       `json:"nome,omitempty"`
	Status           UploadStatus `json:"status"`
	RemoteID         int64        `json:"remote_id,omitempty"`
	Reason           SkipReason   `json:"reason,omitempty"`
	Err              string       `json:"error,omitempty"`
	RetriesExhausted bool         `json:"retries_exhausted,omitempty"`
	Attempts         int          `json:"attempts"`
	InitialImages    int          `json:"initial_images"`
	RemainingImages  int          `json:"remaining_images"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
}

func (o *UploadOutcome) Succeeded() bool {
	return o.Status == StatusCreated || o.Status == StatusUpdated
}

// BatchSummary aggregates a full scheduler run.
type BatchSummary struct {
	Total      int             `json:"total"`
	Success    int             `json:"success"`
	Errors     int             `json:"errors"`
	Skipped    int             `json:"skipped"`
	Details    []UploadOutcome `json:"details"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

func (s *BatchSummary) Record(o UploadOutcome) {
	s.Details = append(s.Details, o)
	switch {
	case o.Succeeded():
		s.Success++
	case o.Status == StatusSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
}
