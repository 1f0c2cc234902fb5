package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrRecordNotFound  = errors.New("backup record not found")
	ErrRecordActive    = errors.New("backup record is still pending or running")
	ErrStaleConfig     = errors.New("configuration was modified concurrently")
	ErrOverlapSkipped  = errors.New("previous run of the job has not finished")
	ErrRunCancelled    = errors.New("backup run was cancelled")
	ErrRunTimedOut     = errors.New("backup run exceeded its maximum duration")
	ErrEmptyDump       = errors.New("dump produced no data")
	ErrNotDownloadable = errors.New("backup has no completed artifact")
	ErrNotRunning      = errors.New("backup is not running")
)

// ValidationError rejects a request before it reaches the scheduler or the executor.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ConnectionError means the database or the object store could not be reached.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// VerificationError means the artifact was written but does not look like a dump.
type VerificationError struct {
	Locator string
	Missing []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("artifact %s failed verification, missing: %s", e.Locator, strings.Join(e.Missing, ", "))
}

// ArtifactDeletionError is reported when a record was removed but its artifact was not.
type ArtifactDeletionError struct {
	RecordID int64
	Locator  string
	Err      error
}

func (e *ArtifactDeletionError) Error() string {
	return fmt.Sprintf("record %d removed but artifact %s could not be deleted: %v", e.RecordID, e.Locator, e.Err)
}

func (e *ArtifactDeletionError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
