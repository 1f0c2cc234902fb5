package domain

import (
	"time"

	"github.com/yurykabanov/pgbackuper/pkg/schedule"
)

type DestinationType string

const (
	DestinationLocal       DestinationType = "local"
	DestinationObjectStore DestinationType = "objectStore"
)

var DestinationTypes = []DestinationType{DestinationLocal, DestinationObjectStore}

func (t DestinationType) Valid() bool {
	return t == DestinationLocal || t == DestinationObjectStore
}

// Job is a scheduled backup definition. NextRunAt is nil iff the job is disabled.
type Job struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	DestinationType DestinationType `json:"destinationType"`
	Schedule        string          `json:"schedule"`
	Enabled         bool            `json:"enabled"`
	LastRunAt       *time.Time      `json:"lastRunAt"`
	NextRunAt       *time.Time      `json:"nextRunAt"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Kind is the artifact kind for runs triggered by this job.
func (j Job) Kind() string {
	expr, err := schedule.Parse(j.Schedule)
	if err != nil {
		return schedule.KindScheduled
	}
	return expr.Kind()
}

// JobDefinition is the user-editable part of a job.
type JobDefinition struct {
	Name            string          `json:"name" validate:"required,notblank,max=200"`
	DestinationType DestinationType `json:"destinationType" validate:"required,destination"`
	Schedule        string          `json:"schedule" validate:"required,cron"`
	Enabled         *bool           `json:"enabled"`
}

func (d JobDefinition) enabled() bool {
	return d.Enabled == nil || *d.Enabled
}
