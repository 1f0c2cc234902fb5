package domain

import (
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var Statuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) canTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next.Terminal()
	}
	return false
}

// Record is the result of one execution. JobID is nil for manual runs.
type Record struct {
	ID              int64           `json:"id"`
	JobID           *int64          `json:"sourceJobId"`
	Name            string          `json:"name"`
	Kind            string          `json:"kind"`
	DestinationType DestinationType `json:"destinationType"`
	Locator         string          `json:"artifactLocator"`
	SizeBytes       int64           `json:"sizeBytes"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt"`
	FinishedAt      *time.Time      `json:"finishedAt"`
	ErrorDetail     string          `json:"errorDetail,omitempty"`
}

// transition moves the record along pending -> running -> completed|failed.
func (r *Record) transition(next Status, at time.Time) error {
	if !r.Status.canTransitionTo(next) {
		return errors.Errorf("illegal status transition %s -> %s for record %d", r.Status, next, r.ID)
	}

	r.Status = next

	switch {
	case next == StatusRunning:
		r.StartedAt = &at
	case next.Terminal():
		r.FinishedAt = &at
	}

	return nil
}

type RecordFilter struct {
	JobID           *int64
	Status          Status
	DestinationType DestinationType
	Limit           int
}
