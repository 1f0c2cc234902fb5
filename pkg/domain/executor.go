package domain

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
	"github.com/yurykabanov/pgbackuper/pkg/schedule"
	"github.com/yurykabanov/pgbackuper/pkg/util"
	"github.com/yurykabanov/pgbackuper/pkg/verify"
)

const (
	maxErrorDetail   = 2000
	cleanupTimeout   = 30 * time.Second
	artifactTimeFmt  = "20060102T150405Z"
	interruptedCause = "interrupted: the process stopped before the run finished"
)

var errShuttingDown = errors.New("executor is shutting down")

// Request describes one execution. JobID is nil for manual runs.
type Request struct {
	JobID           *int64
	Kind            string
	DestinationType DestinationType
}

type recordStore interface {
	Append(context.Context, Record) (Record, error)
	Update(context.Context, Record) error
	Unfinished(context.Context) ([]Record, error)
	EnforceRetention(context.Context) (RetentionReport, error)
}

type activeRun struct {
	recordID int64
	jobID    *int64
	ctx      context.Context
	cancel   context.CancelCauseFunc
	release  context.CancelFunc
}

// Executor performs backup runs. At most one run per job is admitted at a
// time; runs of different jobs and manual runs proceed independently.
type Executor struct {
	logger       logrus.FieldLogger
	records      recordStore
	settings     SettingsReader
	dumper       Dumper
	destinations DestinationProvider
	staging      StagingArea
	observer     Observer
	timeout      time.Duration
	now          func() time.Time

	mu   sync.Mutex
	runs map[int64]*activeRun
	jobs map[int64]int64

	wg sync.WaitGroup
}

func NewExecutor(
	logger logrus.FieldLogger,
	records recordStore,
	settings SettingsReader,
	dumper Dumper,
	destinations DestinationProvider,
	staging StagingArea,
	observer Observer,
	timeout time.Duration,
) *Executor {
	if observer == nil {
		observer = NopObserver{}
	}

	return &Executor{
		logger:       logger,
		records:      records,
		settings:     settings,
		dumper:       dumper,
		destinations: destinations,
		staging:      staging,
		observer:     observer,
		timeout:      timeout,
		now:          time.Now,
		runs:         make(map[int64]*activeRun),
		jobs:         make(map[int64]int64),
	}
}

// ArtifactName is "<kind>_backup_<UTC compact timestamp>_<record id>.sql[.gz]".
// The record id suffix keeps two runs of the same kind started within one
// second from writing to the same name.
func ArtifactName(kind string, at time.Time, recordID int64, compressed bool) string {
	name := fmt.Sprintf("%s_backup_%s_%d.sql", kind, at.UTC().Format(artifactTimeFmt), recordID)
	if compressed {
		name += ".gz"
	}
	return name
}

// Execute admits and runs a backup, returning once the record is terminal.
// The returned error is the run failure (also stored on the record) or an
// admission error such as ErrOverlapSkipped.
func (e *Executor) Execute(ctx context.Context, req Request) (Record, error) {
	rec, run, err := e.admit(ctx, req)
	if err != nil {
		return rec, err
	}

	return e.run(rec, run)
}

// Submit admits a run synchronously and performs it in the background. The
// run outlives ctx, but keeps its values.
func (e *Executor) Submit(ctx context.Context, req Request) (Record, error) {
	rec, run, err := e.admit(context.WithoutCancel(ctx), req)
	if err != nil {
		return rec, err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, _ = e.run(rec, run)
	}()

	return rec, nil
}

// Cancel requests cancellation of a running record. The run stops at its
// next checkpoint and ends as Failed. ErrNotRunning is returned when this
// process has no such run.
func (e *Executor) Cancel(recordID int64) error {
	e.mu.Lock()
	run, ok := e.runs[recordID]
	e.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrNotRunning, "no active run for record %d", recordID)
	}

	run.cancel(ErrRunCancelled)

	return nil
}

// Running reports whether the job has an admitted, non-terminal run.
func (e *Executor) Running(jobID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.jobs[jobID]
	return ok
}

// Shutdown cancels every active run and waits for background runs to record
// their outcome.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, run := range e.runs {
		run.cancel(errShuttingDown)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverInterrupted fails records a previous process left pending or
// running, removing any artifact they may have written.
func (e *Executor) RecoverInterrupted(ctx context.Context) (int, error) {
	unfinished, err := e.records.Unfinished(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "unable to query unfinished records")
	}

	recovered := 0

	for _, rec := range unfinished {
		e.mu.Lock()
		_, active := e.runs[rec.ID]
		e.mu.Unlock()

		if active {
			continue
		}

		logger := appcontext.LoggerFromContext(e.logger, appcontext.WithRecordId(ctx, rec.ID))
		logger.Warn("Failing backup interrupted by restart")

		e.removeArtifact(logger, &rec, e.settings.Current())

		now := e.now().UTC()
		if rec.Status == StatusPending {
			// never started: give it an empty running interval
			if err := rec.transition(StatusRunning, now); err != nil {
				logger.WithError(err).Error("Unable to fail interrupted backup")
				continue
			}
		}

		if err := rec.transition(StatusFailed, now); err != nil {
			logger.WithError(err).Error("Unable to fail interrupted backup")
			continue
		}
		rec.ErrorDetail = interruptedCause

		if err := e.records.Update(ctx, rec); err != nil {
			return recovered, errors.Wrapf(err, "unable to update record %d", rec.ID)
		}

		recovered++
	}

	return recovered, nil
}

func (e *Executor) admit(ctx context.Context, req Request) (Record, *activeRun, error) {
	if !req.DestinationType.Valid() {
		return Record{}, nil, &ValidationError{Field: "destinationType", Reason: "must be one of: local, objectStore"}
	}

	if req.Kind == "" {
		req.Kind = schedule.KindManual
	}

	if req.JobID != nil {
		e.mu.Lock()
		if _, busy := e.jobs[*req.JobID]; busy {
			e.mu.Unlock()
			return Record{}, nil, errors.Wrapf(ErrOverlapSkipped, "job %d", *req.JobID)
		}
		// reserve the slot before the record exists
		e.jobs[*req.JobID] = 0
		e.mu.Unlock()
	}

	rec, err := e.records.Append(ctx, Record{
		JobID:           req.JobID,
		Kind:            req.Kind,
		DestinationType: req.DestinationType,
		Status:          StatusPending,
		CreatedAt:       e.now().UTC(),
	})
	if err != nil {
		if req.JobID != nil {
			e.mu.Lock()
			delete(e.jobs, *req.JobID)
			e.mu.Unlock()
		}
		return rec, nil, errors.Wrap(err, "unable to create backup record")
	}

	runCtx, cancel := context.WithCancelCause(ctx)

	release := func() {}
	if e.timeout > 0 {
		runCtx, release = context.WithTimeoutCause(runCtx, e.timeout, ErrRunTimedOut)
	}

	run := &activeRun{
		recordID: rec.ID,
		jobID:    req.JobID,
		ctx:      runCtx,
		cancel:   cancel,
		release:  release,
	}

	e.mu.Lock()
	e.runs[rec.ID] = run
	if req.JobID != nil {
		e.jobs[*req.JobID] = rec.ID
	}
	e.mu.Unlock()

	return rec, run, nil
}

func (e *Executor) finish(run *activeRun) {
	e.mu.Lock()
	delete(e.runs, run.recordID)
	if run.jobID != nil {
		delete(e.jobs, *run.jobID)
	}
	e.mu.Unlock()

	run.release()
	run.cancel(nil)
}

func (e *Executor) run(rec Record, run *activeRun) (Record, error) {
	defer e.finish(run)

	ctx := appcontext.WithRecordId(run.ctx, rec.ID)
	if rec.JobID != nil {
		ctx = appcontext.WithJobId(ctx, *rec.JobID)
	}

	logger := appcontext.LoggerFromContext(e.logger, ctx)

	settings := e.settings.Current()
	startedAt := e.now().UTC()

	if err := rec.transition(StatusRunning, startedAt); err != nil {
		return e.fail(logger, rec, settings, startedAt, err)
	}
	rec.Name = ArtifactName(rec.Kind, startedAt, rec.ID, settings.Local.Compression)

	if err := e.records.Update(context.Background(), rec); err != nil {
		return e.fail(logger, rec, settings, startedAt, errors.Wrap(err, "unable to mark backup running"))
	}

	logger.WithFields(logrus.Fields{
		"destination": rec.DestinationType,
		"name":        rec.Name,
	}).Info("Backup started")

	if err := e.perform(ctx, &rec, settings); err != nil {
		return e.fail(logger, rec, settings, startedAt, err)
	}

	written := rec

	if err := rec.transition(StatusCompleted, e.now().UTC()); err != nil {
		return e.fail(logger, written, settings, startedAt, err)
	}

	if err := e.records.Update(context.Background(), rec); err != nil {
		// an unrecorded artifact is removed and the run fails instead
		return e.fail(logger, written, settings, startedAt, errors.Wrap(err, "unable to mark backup completed"))
	}

	e.observer.RunFinished(rec.DestinationType, rec.Status, rec.FinishedAt.Sub(startedAt))

	logger.WithFields(logrus.Fields{
		"locator":    rec.Locator,
		"size_bytes": rec.SizeBytes,
		"size":       util.FormatSize(rec.SizeBytes),
	}).Info("Backup completed")

	e.enforceRetention(logger)

	return rec, nil
}

// perform runs the dump, compress, write and verify steps, checking for
// cancellation between them.
func (e *Executor) perform(ctx context.Context, rec *Record, settings Settings) error {
	dest, err := e.destinations.Destination(rec.DestinationType, settings)
	if err != nil {
		return err
	}

	dir, err := e.staging.Allocate()
	if err != nil {
		return err
	}
	defer func() {
		if err := e.staging.Release(dir); err != nil {
			e.logger.WithError(err).WithField("dir", dir).Warn("Unable to release staging directory")
		}
	}()

	if err := checkpoint(ctx); err != nil {
		return err
	}

	artifact := filepath.Join(dir, "dump.sql")
	if err := e.dump(ctx, settings.Database, artifact); err != nil {
		return stepError(ctx, err, "dump")
	}

	if settings.Local.Compression {
		if err := checkpoint(ctx); err != nil {
			return err
		}

		artifact, err = compressFile(artifact)
		if err != nil {
			return stepError(ctx, err, "compress")
		}
	}

	info, err := os.Stat(artifact)
	if err != nil {
		return errors.Wrap(err, "unable to stat staged artifact")
	}

	if err := checkpoint(ctx); err != nil {
		return err
	}

	locator, err := writeArtifact(ctx, dest, rec.Name, artifact)
	if err != nil {
		return stepError(ctx, err, "write")
	}
	rec.Locator = locator
	rec.SizeBytes = info.Size()

	if settings.Local.VerifyContent {
		if err := checkpoint(ctx); err != nil {
			return err
		}

		if err := verifyArtifact(ctx, dest, locator, settings.Local.Compression); err != nil {
			return stepError(ctx, err, "verify")
		}
	}

	return checkpoint(ctx)
}

func (e *Executor) dump(ctx context.Context, db DatabaseSettings, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	if err := e.dumper.Dump(ctx, db, f); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return ErrEmptyDump
	}

	return nil
}

func (e *Executor) fail(logger logrus.FieldLogger, rec Record, settings Settings, startedAt time.Time, cause error) (Record, error) {
	e.removeArtifact(logger, &rec, settings)

	rec.ErrorDetail = errorDetail(cause)

	if err := rec.transition(StatusFailed, e.now().UTC()); err != nil {
		logger.WithError(err).Error("Unable to transition backup to failed")
	}

	if err := e.records.Update(context.Background(), rec); err != nil {
		logger.WithError(err).Error("Unable to mark backup failed")
	}

	e.observer.RunFinished(rec.DestinationType, StatusFailed, e.now().Sub(startedAt))

	logger.WithError(cause).Error("Backup failed")

	return rec, cause
}

// removeArtifact deletes whatever the run already wrote. The locator is kept
// when deletion fails so a later Delete can retry.
func (e *Executor) removeArtifact(logger logrus.FieldLogger, rec *Record, settings Settings) {
	if rec.Locator == "" {
		return
	}

	dest, err := e.destinations.Destination(rec.DestinationType, settings)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		err = dest.Delete(ctx, rec.Locator)
		cancel()
	}

	if err != nil {
		logger.WithError(err).WithField("locator", rec.Locator).Error("Unable to remove artifact of failed backup")
		return
	}

	rec.Locator = ""
}

func (e *Executor) enforceRetention(logger logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if _, err := e.records.EnforceRetention(ctx); err != nil {
		logger.WithError(err).Error("Unable to enforce retention")
	}
}

func checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	default:
		return nil
	}
}

// stepError prefers the cancellation cause over the I/O error it provoked.
func stepError(ctx context.Context, err error, step string) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return errors.Wrapf(err, "%s failed", step)
}

func compressFile(src string) (string, error) {
	dst := src + ".gz"

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}

	gz := gzip.NewWriter(out)

	if _, err := io.Copy(gz, in); err != nil {
		_ = out.Close()
		return "", err
	}

	if err := gz.Close(); err != nil {
		_ = out.Close()
		return "", err
	}

	if err := out.Close(); err != nil {
		return "", err
	}

	return dst, os.Remove(src)
}

func writeArtifact(ctx context.Context, dest Destination, name, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return dest.Write(ctx, name, f)
}

func verifyArtifact(ctx context.Context, dest Destination, locator string, compressed bool) error {
	rc, err := dest.Open(ctx, locator)
	if err != nil {
		return errors.Wrap(err, "unable to read artifact back")
	}
	defer rc.Close()

	res, err := verify.Scan(rc, compressed)
	if err != nil {
		return err
	}

	if !res.OK() {
		return &VerificationError{Locator: locator, Missing: res.Missing()}
	}

	return nil
}

func errorDetail(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorDetail {
		msg = msg[:maxErrorDetail]
	}
	return msg
}
