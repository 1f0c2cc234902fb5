package domain

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/schedule"
)

type stagingSweeper interface {
	Sweep() (int, error)
}

// Orchestrator is the single entry point the transport layer talks to. It
// validates input before anything reaches the scheduler or the executor.
type Orchestrator struct {
	logger    logrus.FieldLogger
	config    *ConfigStore
	executor  *Executor
	scheduler *Scheduler
	catalog   *Catalog
	sweeper   *RetentionSweeper
	staging   stagingSweeper
}

func NewOrchestrator(
	logger logrus.FieldLogger,
	config *ConfigStore,
	executor *Executor,
	scheduler *Scheduler,
	catalog *Catalog,
	sweeper *RetentionSweeper,
	staging stagingSweeper,
) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		config:    config,
		executor:  executor,
		scheduler: scheduler,
		catalog:   catalog,
		sweeper:   sweeper,
		staging:   staging,
	}
}

// Start fails whatever a previous process left unfinished, clears stale
// staging directories, then starts the timing loop and the retention sweeper.
func (o *Orchestrator) Start(ctx context.Context) error {
	recovered, err := o.executor.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		o.logger.WithField("records", recovered).Warn("Interrupted backups marked as failed")
	}

	if o.staging != nil {
		if n, err := o.staging.Sweep(); err != nil {
			o.logger.WithError(err).Warn("Unable to sweep staging area")
		} else if n > 0 {
			o.logger.WithField("directories", n).Info("Stale staging directories removed")
		}
	}

	if err := o.scheduler.Load(ctx); err != nil {
		return err
	}

	o.scheduler.Start()
	o.sweeper.Start()

	return nil
}

func (o *Orchestrator) Stop(ctx context.Context) error {
	o.sweeper.Stop()

	schedErr := o.scheduler.Stop(ctx)
	execErr := o.executor.Shutdown(ctx)

	if schedErr != nil {
		return schedErr
	}
	return execErr
}

func (o *Orchestrator) CreateJob(ctx context.Context, def JobDefinition) (Job, error) {
	def = normalizeDefinition(def)

	if err := validateStruct(def); err != nil {
		return Job{}, err
	}

	return o.scheduler.Register(ctx, Job{
		Name:            def.Name,
		DestinationType: def.DestinationType,
		Schedule:        def.Schedule,
		Enabled:         def.enabled(),
	})
}

// UpdateJob replaces the definition of an existing job. Enabled is kept when
// the definition omits it.
func (o *Orchestrator) UpdateJob(ctx context.Context, id int64, def JobDefinition) (Job, error) {
	def = normalizeDefinition(def)

	if err := validateStruct(def); err != nil {
		return Job{}, err
	}

	existing, err := o.scheduler.Job(id)
	if err != nil {
		return Job{}, err
	}

	enabled := existing.Enabled
	if def.Enabled != nil {
		enabled = *def.Enabled
	}

	return o.scheduler.Update(ctx, Job{
		ID:              id,
		Name:            def.Name,
		DestinationType: def.DestinationType,
		Schedule:        def.Schedule,
		Enabled:         enabled,
	})
}

// DeleteJob is a no-op for unknown ids. History of the job is kept.
func (o *Orchestrator) DeleteJob(ctx context.Context, id int64) error {
	return o.scheduler.Unregister(ctx, id)
}

func (o *Orchestrator) ToggleJob(ctx context.Context, id int64, enabled bool) (Job, error) {
	return o.scheduler.Toggle(ctx, id, enabled)
}

func (o *Orchestrator) Jobs() []Job {
	return o.scheduler.Jobs()
}

func (o *Orchestrator) Job(id int64) (Job, error) {
	return o.scheduler.Job(id)
}

func (o *Orchestrator) Presets() []schedule.Preset {
	return schedule.Presets()
}

// TriggerBackup starts a manual run. It returns once the run is admitted; the
// record is Pending and progresses in the background.
func (o *Orchestrator) TriggerBackup(ctx context.Context, dest DestinationType) (Record, error) {
	if err := o.checkDestination(dest); err != nil {
		return Record{}, err
	}

	return o.executor.Submit(ctx, Request{
		Kind:            schedule.KindManual,
		DestinationType: dest,
	})
}

// RunJobNow runs a job out of schedule. It is subject to the same per-job
// exclusion as scheduled firings and does not move nextRunAt.
func (o *Orchestrator) RunJobNow(ctx context.Context, id int64) (Record, error) {
	j, err := o.scheduler.Job(id)
	if err != nil {
		return Record{}, err
	}

	if err := o.checkDestination(j.DestinationType); err != nil {
		return Record{}, err
	}

	return o.executor.Submit(ctx, Request{
		JobID:           &j.ID,
		Kind:            j.Kind(),
		DestinationType: j.DestinationType,
	})
}

func (o *Orchestrator) StopBackup(ctx context.Context, id int64) error {
	r, err := o.catalog.Get(ctx, id)
	if err != nil {
		return err
	}

	if r.Status.Terminal() {
		return errors.Wrapf(ErrNotRunning, "record %d is %s", r.ID, r.Status)
	}

	return o.executor.Cancel(id)
}

func (o *Orchestrator) History(ctx context.Context, filter RecordFilter) ([]Record, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "must be one of: pending, running, completed, failed"}
	}

	if filter.DestinationType != "" && !filter.DestinationType.Valid() {
		return nil, &ValidationError{Field: "destinationType", Reason: "must be one of: local, objectStore"}
	}

	if filter.Limit < 0 {
		return nil, &ValidationError{Field: "limit", Reason: "must be greater than or equal to 0"}
	}

	return o.catalog.List(ctx, filter)
}

func (o *Orchestrator) Backup(ctx context.Context, id int64) (Record, error) {
	return o.catalog.Get(ctx, id)
}

func (o *Orchestrator) DeleteBackup(ctx context.Context, id int64) error {
	return o.catalog.Delete(ctx, id)
}

func (o *Orchestrator) OpenArtifact(ctx context.Context, id int64) (Record, io.ReadCloser, error) {
	return o.catalog.OpenArtifact(ctx, id)
}

func (o *Orchestrator) LastSuccessful(ctx context.Context) ([]Record, error) {
	return o.catalog.LastSuccessful(ctx)
}

func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	return o.catalog.Stats(ctx)
}

func (o *Orchestrator) Config() Settings {
	return o.config.Current()
}

// UpdateConfig validates and stores a full settings document. Runs already in
// flight keep the settings they started with.
func (o *Orchestrator) UpdateConfig(ctx context.Context, next Settings) (Settings, error) {
	if err := validateStruct(next); err != nil {
		return o.config.Current(), err
	}

	return o.config.Update(ctx, next)
}

func (o *Orchestrator) checkDestination(dest DestinationType) error {
	if !dest.Valid() {
		return &ValidationError{Field: "destinationType", Reason: "must be one of: local, objectStore"}
	}

	if dest == DestinationObjectStore && !o.config.Current().ObjectStore.Configured() {
		return &ValidationError{Field: "objectStore", Reason: "object store is not configured"}
	}

	return nil
}

func normalizeDefinition(def JobDefinition) JobDefinition {
	def.Name = strings.TrimSpace(def.Name)
	def.Schedule = strings.Join(strings.Fields(def.Schedule), " ")
	return def
}
