package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const (
	jobInsertQuery = `
		INSERT INTO jobs (
			name, destination_type, schedule, enabled,
			last_run_at, next_run_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	jobUpdateQuery = `
		UPDATE jobs SET
			name = ?, destination_type = ?, schedule = ?, enabled = ?,
			last_run_at = ?, next_run_at = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`

	jobDeleteQuery = `DELETE FROM jobs WHERE id = ?`

	jobSelectAll = `
		SELECT
			id,
			name, destination_type, schedule, enabled,
			last_run_at, next_run_at, created_at, updated_at
		FROM jobs
		ORDER BY id
	`
)

type jobRow struct {
	ID              int64
	Name            string
	DestinationType string
	Schedule        string
	Enabled         bool
	LastRunAt       *time.Time
	NextRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (row jobRow) job() domain.Job {
	return domain.Job{
		ID:              row.ID,
		Name:            row.Name,
		DestinationType: domain.DestinationType(row.DestinationType),
		Schedule:        row.Schedule,
		Enabled:         row.Enabled,
		LastRunAt:       utcPtr(row.LastRunAt),
		NextRunAt:       utcPtr(row.NextRunAt),
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
}

func jobArgs(j domain.Job) []interface{} {
	return []interface{}{
		j.Name, string(j.DestinationType), j.Schedule, j.Enabled,
		utcPtr(j.LastRunAt), utcPtr(j.NextRunAt), j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
	}
}

type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{
		db: db,
	}
}

func (r *JobRepository) Create(ctx context.Context, job domain.Job) (domain.Job, error) {
	res, err := r.db.ExecContext(ctx, jobInsertQuery, jobArgs(job)...)
	if err != nil {
		return job, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return job, err
	}

	job.ID = id

	return job, nil
}

func (r *JobRepository) Update(ctx context.Context, job domain.Job) error {
	res, err := r.db.ExecContext(ctx, jobUpdateQuery, append(jobArgs(job), job.ID)...)
	if err != nil {
		return err
	}

	return expectAffected(res, errors.Wrapf(domain.ErrJobNotFound, "job %d", job.ID))
}

func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, jobDeleteQuery, id)
	return err
}

func (r *JobRepository) FindAll(ctx context.Context) ([]domain.Job, error) {
	var rows []jobRow

	err := r.db.SelectContext(ctx, &rows, jobSelectAll)
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.job())
	}

	return jobs, nil
}
