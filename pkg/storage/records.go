package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const (
	recordColumns = `
		id, job_id, name, kind, destination_type, locator,
		size_bytes, status, created_at, started_at, finished_at, error_detail
	`

	recordInsertQuery = `
		INSERT INTO backup_records (
			job_id, name, kind, destination_type, locator,
			size_bytes, status, created_at, started_at, finished_at, error_detail
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	recordUpdateQuery = `
		UPDATE backup_records SET
			job_id = ?, name = ?, kind = ?, destination_type = ?, locator = ?,
			size_bytes = ?, status = ?, created_at = ?, started_at = ?, finished_at = ?, error_detail = ?
		WHERE id = ?
	`

	recordSelectById = `SELECT ` + recordColumns + ` FROM backup_records WHERE id = ?`

	recordDeleteById = `DELETE FROM backup_records WHERE id = ?`

	recordSelectUnfinished = `
		SELECT ` + recordColumns + `
		FROM backup_records
		WHERE status IN (?)
		ORDER BY id
	`

	recordSelectExpired = `
		SELECT ` + recordColumns + `
		FROM backup_records
		WHERE destination_type = ?
			AND status IN (?)
			AND finished_at IS NOT NULL
			AND finished_at < ?
		ORDER BY finished_at
	`

	recordSelectLastSuccessful = `
		SELECT ` + recordColumns + `
		FROM backup_records r
		WHERE r.job_id IS NOT NULL
			AND r.id = (
				SELECT MAX(id) FROM backup_records
				WHERE job_id = r.job_id AND status = ?
			)
		ORDER BY r.job_id
	`

	recordCountByStatus = `SELECT status, COUNT(*) AS count FROM backup_records GROUP BY status`
)

type recordRow struct {
	ID              int64
	JobID           sql.NullInt64
	Name            string
	Kind            string
	DestinationType string
	Locator         string
	SizeBytes       int64
	Status          string
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	ErrorDetail     string
}

func (row recordRow) record() domain.Record {
	r := domain.Record{
		ID:              row.ID,
		Name:            row.Name,
		Kind:            row.Kind,
		DestinationType: domain.DestinationType(row.DestinationType),
		Locator:         row.Locator,
		SizeBytes:       row.SizeBytes,
		Status:          domain.Status(row.Status),
		CreatedAt:       row.CreatedAt.UTC(),
		StartedAt:       utcPtr(row.StartedAt),
		FinishedAt:      utcPtr(row.FinishedAt),
		ErrorDetail:     row.ErrorDetail,
	}

	if row.JobID.Valid {
		id := row.JobID.Int64
		r.JobID = &id
	}

	return r
}

func recordArgs(r domain.Record) []interface{} {
	var jobId sql.NullInt64
	if r.JobID != nil {
		jobId = sql.NullInt64{Int64: *r.JobID, Valid: true}
	}

	return []interface{}{
		jobId, r.Name, r.Kind, string(r.DestinationType), r.Locator,
		r.SizeBytes, string(r.Status), r.CreatedAt.UTC(), utcPtr(r.StartedAt), utcPtr(r.FinishedAt), r.ErrorDetail,
	}
}

type RecordRepository struct {
	db *sqlx.DB
}

func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{
		db: db,
	}
}

func (r *RecordRepository) Create(ctx context.Context, record domain.Record) (domain.Record, error) {
	res, err := r.db.ExecContext(ctx, recordInsertQuery, recordArgs(record)...)
	if err != nil {
		return record, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return record, err
	}

	record.ID = id

	return record, nil
}

func (r *RecordRepository) Update(ctx context.Context, record domain.Record) error {
	args := append(recordArgs(record), record.ID)

	res, err := r.db.ExecContext(ctx, recordUpdateQuery, args...)
	if err != nil {
		return err
	}

	return expectAffected(res, errors.Wrapf(domain.ErrRecordNotFound, "record %d", record.ID))
}

func (r *RecordRepository) Get(ctx context.Context, id int64) (domain.Record, error) {
	var row recordRow

	err := r.db.GetContext(ctx, &row, recordSelectById, id)
	if err == sql.ErrNoRows {
		return domain.Record{}, errors.Wrapf(domain.ErrRecordNotFound, "record %d", id)
	}
	if err != nil {
		return domain.Record{}, err
	}

	return row.record(), nil
}

// Find returns records newest first.
func (r *RecordRepository) Find(ctx context.Context, filter domain.RecordFilter) ([]domain.Record, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.JobID != nil {
		where = append(where, "job_id = ?")
		args = append(args, *filter.JobID)
	}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	if filter.DestinationType != "" {
		where = append(where, "destination_type = ?")
		args = append(args, string(filter.DestinationType))
	}

	query := `SELECT ` + recordColumns + ` FROM backup_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return r.selectRecords(ctx, query, args...)
}

func (r *RecordRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, recordDeleteById, id)
	return err
}

func (r *RecordRepository) FindExpired(ctx context.Context, dest domain.DestinationType, finishedBefore time.Time) ([]domain.Record, error) {
	terminal := []string{string(domain.StatusCompleted), string(domain.StatusFailed)}

	query, args, err := sqlx.In(recordSelectExpired, string(dest), terminal, finishedBefore.UTC())
	if err != nil {
		return nil, err
	}

	return r.selectRecords(ctx, r.db.Rebind(query), args...)
}

func (r *RecordRepository) FindUnfinished(ctx context.Context) ([]domain.Record, error) {
	unfinished := []string{string(domain.StatusPending), string(domain.StatusRunning)}

	query, args, err := sqlx.In(recordSelectUnfinished, unfinished)
	if err != nil {
		return nil, err
	}

	return r.selectRecords(ctx, r.db.Rebind(query), args...)
}

// FindLastSuccessful returns the latest completed record of every job.
func (r *RecordRepository) FindLastSuccessful(ctx context.Context) ([]domain.Record, error) {
	return r.selectRecords(ctx, recordSelectLastSuccessful, string(domain.StatusCompleted))
}

func (r *RecordRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	var rows []struct {
		Status string
		Count  int
	}

	err := r.db.SelectContext(ctx, &rows, recordCountByStatus)
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Status]int, len(rows))
	for _, row := range rows {
		counts[domain.Status(row.Status)] = row.Count
	}

	return counts, nil
}

func (r *RecordRepository) selectRecords(ctx context.Context, query string, args ...interface{}) ([]domain.Record, error) {
	var rows []recordRow

	err := r.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}

	return records, nil
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
