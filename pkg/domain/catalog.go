package domain

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
)

const retentionParallelism = 4

type RecordRepository interface {
	Create(context.Context, Record) (Record, error)
	Update(context.Context, Record) error
	Get(context.Context, int64) (Record, error)
	Find(context.Context, RecordFilter) ([]Record, error)
	Delete(context.Context, int64) error
	FindExpired(ctx context.Context, dest DestinationType, finishedBefore time.Time) ([]Record, error)
	FindUnfinished(context.Context) ([]Record, error)
	FindLastSuccessful(context.Context) ([]Record, error)
	CountByStatus(context.Context) (map[Status]int, error)
}

type Stats struct {
	Total     int `json:"totalBackups"`
	Completed int `json:"successfulBackups"`
	Failed    int `json:"failedBackups"`
	Active    int `json:"activeBackups"`
}

type RetentionReport struct {
	Deleted        int
	ArtifactErrors []error
}

// Catalog owns backup record history. The executor is the only caller of
// Update while a record is not terminal.
type Catalog struct {
	logger       logrus.FieldLogger
	repo         RecordRepository
	destinations DestinationProvider
	settings     SettingsReader
	observer     Observer
	now          func() time.Time

	appendMu    sync.Mutex
	retentionMu sync.Mutex
}

func NewCatalog(
	logger logrus.FieldLogger,
	repo RecordRepository,
	destinations DestinationProvider,
	settings SettingsReader,
	observer Observer,
) *Catalog {
	if observer == nil {
		observer = NopObserver{}
	}

	return &Catalog{
		logger:       logger,
		repo:         repo,
		destinations: destinations,
		settings:     settings,
		observer:     observer,
		now:          time.Now,
	}
}

// Append stores a new record. Concurrent executions are serialized here.
func (c *Catalog) Append(ctx context.Context, r Record) (Record, error) {
	c.appendMu.Lock()
	defer c.appendMu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = c.now().UTC()
	}

	return c.repo.Create(ctx, r)
}

func (c *Catalog) Update(ctx context.Context, r Record) error {
	return c.repo.Update(ctx, r)
}

func (c *Catalog) Get(ctx context.Context, id int64) (Record, error) {
	return c.repo.Get(ctx, id)
}

// List returns a newest-first snapshot; later appends do not affect it.
func (c *Catalog) List(ctx context.Context, filter RecordFilter) ([]Record, error) {
	return c.repo.Find(ctx, filter)
}

func (c *Catalog) Unfinished(ctx context.Context) ([]Record, error) {
	return c.repo.FindUnfinished(ctx)
}

func (c *Catalog) LastSuccessful(ctx context.Context) ([]Record, error) {
	return c.repo.FindLastSuccessful(ctx)
}

// Delete removes the record, then its artifact on a best-effort basis. When
// only the artifact removal fails the record is gone and an
// *ArtifactDeletionError is returned.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	r, err := c.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if !r.Status.Terminal() {
		return errors.Wrapf(ErrRecordActive, "record %d is %s", r.ID, r.Status)
	}

	return c.deleteRecord(ctx, r)
}

func (c *Catalog) deleteRecord(ctx context.Context, r Record) error {
	if err := c.repo.Delete(ctx, r.ID); err != nil {
		return errors.Wrapf(err, "unable to delete record %d", r.ID)
	}

	if r.Locator == "" {
		return nil
	}

	if err := c.deleteArtifact(ctx, r); err != nil {
		return &ArtifactDeletionError{RecordID: r.ID, Locator: r.Locator, Err: err}
	}

	return nil
}

func (c *Catalog) deleteArtifact(ctx context.Context, r Record) error {
	dest, err := c.destinations.Destination(r.DestinationType, c.settings.Current())
	if err != nil {
		return err
	}
	return dest.Delete(ctx, r.Locator)
}

// OpenArtifact streams a completed backup.
func (c *Catalog) OpenArtifact(ctx context.Context, id int64) (Record, io.ReadCloser, error) {
	r, err := c.repo.Get(ctx, id)
	if err != nil {
		return r, nil, err
	}

	if r.Status != StatusCompleted || r.Locator == "" {
		return r, nil, errors.Wrapf(ErrNotDownloadable, "record %d is %s", r.ID, r.Status)
	}

	dest, err := c.destinations.Destination(r.DestinationType, c.settings.Current())
	if err != nil {
		return r, nil, err
	}

	rc, err := dest.Open(ctx, r.Locator)
	if err != nil {
		return r, nil, errors.Wrapf(err, "unable to open artifact %s", r.Locator)
	}

	return r, rc, nil
}

func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	counts, err := c.repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	for status, n := range counts {
		s.Total += n
		switch status {
		case StatusCompleted:
			s.Completed += n
		case StatusFailed:
			s.Failed += n
		default:
			s.Active += n
		}
	}

	return s, nil
}

// EnforceRetention deletes terminal records (and their artifacts) whose
// finishedAt is older than the retention horizon of their destination type.
// Pending and running records are never touched. Artifact failures are
// reported in the result and do not stop the sweep.
func (c *Catalog) EnforceRetention(ctx context.Context) (RetentionReport, error) {
	c.retentionMu.Lock()
	defer c.retentionMu.Unlock()

	var report RetentionReport

	settings := c.settings.Current()
	now := c.now().UTC()

	for _, dest := range DestinationTypes {
		days := settings.RetentionDays(dest)
		if days <= 0 {
			continue
		}

		cutoff := now.AddDate(0, 0, -days)

		expired, err := c.repo.FindExpired(ctx, dest, cutoff)
		if err != nil {
			return report, errors.Wrapf(err, "unable to find expired %s records", dest)
		}

		if len(expired) == 0 {
			continue
		}

		deleted, artifactErrs, err := c.purge(ctx, expired)

		report.Deleted += deleted
		report.ArtifactErrors = append(report.ArtifactErrors, artifactErrs...)

		c.observer.RetentionDeleted(dest, deleted)
		if len(artifactErrs) > 0 {
			c.observer.RetentionFailed(len(artifactErrs))
		}

		c.logger.WithFields(logrus.Fields{
			"destination":    dest,
			"retention_days": days,
			"deleted":        deleted,
		}).Info("Retention applied")

		if err != nil {
			return report, err
		}
	}

	return report, nil
}

func (c *Catalog) purge(ctx context.Context, records []Record) (int, []error, error) {
	var (
		mu           sync.Mutex
		deleted      int
		artifactErrs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(retentionParallelism)

	for _, r := range records {
		r := r

		g.Go(func() error {
			if !r.Status.Terminal() {
				return nil
			}

			err := c.deleteRecord(gctx, r)

			mu.Lock()
			defer mu.Unlock()

			var artifactErr *ArtifactDeletionError
			switch {
			case err == nil:
				deleted++
			case errors.As(err, &artifactErr):
				deleted++
				artifactErrs = append(artifactErrs, err)

				logger := appcontext.LoggerFromContext(c.logger, appcontext.WithRecordId(gctx, r.ID))
				logger.WithError(err).WithField("event", "retention_deletion_error").Warn("Unable to delete expired artifact")
			default:
				return err
			}

			return nil
		})
	}

	err := g.Wait()

	return deleted, artifactErrs, err
}
