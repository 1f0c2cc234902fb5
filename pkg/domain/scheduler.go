package domain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
	"github.com/yurykabanov/pgbackuper/pkg/schedule"
)

type JobRepository interface {
	Create(context.Context, Job) (Job, error)
	Update(context.Context, Job) error
	Delete(context.Context, int64) error
	FindAll(context.Context) ([]Job, error)
}

type jobRunner interface {
	Execute(context.Context, Request) (Record, error)
}

// Scheduler keeps the set of recurring jobs and fires them from a single
// timing loop. Firing never waits for the run: the run happens in its own
// goroutine and a job with a run still in flight is skipped.
type Scheduler struct {
	logger   logrus.FieldLogger
	repo     JobRepository
	runner   jobRunner
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	jobs     map[int64]Job
	inFlight map[int64]struct{}

	wake chan struct{}
	stop chan struct{}
	once sync.Once

	runCtx    context.Context
	runCancel context.CancelCauseFunc

	loop sync.WaitGroup
	runs sync.WaitGroup
}

func NewScheduler(logger logrus.FieldLogger, repo JobRepository, runner jobRunner, observer Observer) *Scheduler {
	if observer == nil {
		observer = NopObserver{}
	}

	runCtx, runCancel := context.WithCancelCause(context.Background())

	return &Scheduler{
		logger:    logger,
		repo:      repo,
		runner:    runner,
		observer:  observer,
		now:       time.Now,
		jobs:      make(map[int64]Job),
		inFlight:  make(map[int64]struct{}),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

// Load reads persisted jobs. A job whose nextRunAt has already passed keeps
// it, so it fires once as soon as the loop starts; missed occurrences are not
// replayed.
func (s *Scheduler) Load(ctx context.Context) error {
	jobs, err := s.repo.FindAll(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to load jobs")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	for _, j := range jobs {
		switch {
		case !j.Enabled:
			j.NextRunAt = nil
		case j.NextRunAt == nil:
			next, err := nextRun(j.Schedule, now)
			if err != nil {
				s.logger.WithError(err).WithField("job_id", j.ID).Error("Job has an invalid schedule, disabling it")
				j.Enabled = false
				break
			}
			j.NextRunAt = &next
		}

		s.jobs[j.ID] = j
	}

	s.logger.WithField("jobs", len(s.jobs)).Info("Jobs loaded")

	return nil
}

func (s *Scheduler) Start() {
	s.loop.Add(1)
	go s.run()
}

// Stop ends the timing loop, cancels runs it started and waits for them to
// record their outcome or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.once.Do(func() { close(s.stop) })
	s.loop.Wait()

	s.runCancel(errShuttingDown)

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Register(ctx context.Context, j Job) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	j.ID = 0
	j.CreatedAt = now
	j.UpdatedAt = now
	j.LastRunAt = nil

	if err := s.plan(&j, now); err != nil {
		return j, err
	}

	j, err := s.repo.Create(ctx, j)
	if err != nil {
		return j, errors.Wrap(err, "unable to store job")
	}

	s.jobs[j.ID] = j
	s.notify()

	s.logger.WithFields(logrus.Fields{"job_id": j.ID, "schedule": j.Schedule}).Info("Job registered")

	return j, nil
}

// Update replaces a job's definition. Its nextRunAt is recomputed from now;
// a run already in flight is unaffected.
func (s *Scheduler) Update(ctx context.Context, j Job) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[j.ID]
	if !ok {
		return j, errors.Wrapf(ErrJobNotFound, "job %d", j.ID)
	}

	now := s.now().UTC()

	j.CreatedAt = existing.CreatedAt
	j.LastRunAt = existing.LastRunAt
	j.UpdatedAt = now

	if err := s.plan(&j, now); err != nil {
		return existing, err
	}

	if err := s.repo.Update(ctx, j); err != nil {
		return existing, errors.Wrapf(err, "unable to update job %d", j.ID)
	}

	s.jobs[j.ID] = j
	s.notify()

	return j, nil
}

// Unregister removes a job. Unknown ids are ignored.
func (s *Scheduler) Unregister(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return nil
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrapf(err, "unable to delete job %d", id)
	}

	delete(s.jobs, id)
	s.notify()

	s.logger.WithField("job_id", id).Info("Job unregistered")

	return nil
}

// Toggle enables or disables a job. Setting the current state again changes
// nothing, nextRunAt included.
func (s *Scheduler) Toggle(ctx context.Context, id int64, enabled bool) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return j, errors.Wrapf(ErrJobNotFound, "job %d", id)
	}

	if j.Enabled == enabled {
		return j, nil
	}

	now := s.now().UTC()
	j.Enabled = enabled
	j.UpdatedAt = now

	if err := s.plan(&j, now); err != nil {
		return s.jobs[id], err
	}

	if err := s.repo.Update(ctx, j); err != nil {
		return s.jobs[id], errors.Wrapf(err, "unable to update job %d", id)
	}

	s.jobs[id] = j
	s.notify()

	return j, nil
}

func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })

	return jobs
}

func (s *Scheduler) Job(id int64) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return j, errors.Wrapf(ErrJobNotFound, "job %d", id)
	}
	return j, nil
}

// plan sets nextRunAt for the job's enabled state. Must be called with mu held.
func (s *Scheduler) plan(j *Job, now time.Time) error {
	if !j.Enabled {
		j.NextRunAt = nil
		return nil
	}

	next, err := nextRun(j.Schedule, now)
	if err != nil {
		return &ValidationError{Field: "schedule", Reason: err.Error()}
	}
	j.NextRunAt = &next

	return nil
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.loop.Done()

	for {
		s.fireDue(s.now().UTC())

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)

		if delay, ok := s.nextDelay(s.now().UTC()); ok {
			timer = time.NewTimer(delay)
			timerC = timer.C
		}

		select {
		case <-s.stop:
		case <-s.wake:
		case <-timerC:
		}

		if timer != nil {
			timer.Stop()
		}

		select {
		case <-s.stop:
			return
		default:
		}
	}
}

func (s *Scheduler) nextDelay(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *time.Time
	for _, j := range s.jobs {
		if !j.Enabled || j.NextRunAt == nil {
			continue
		}
		if earliest == nil || j.NextRunAt.Before(*earliest) {
			earliest = j.NextRunAt
		}
	}

	if earliest == nil {
		return 0, false
	}

	delay := earliest.Sub(now)
	if delay < 0 {
		delay = 0
	}

	return delay, true
}

// fireDue dispatches every enabled job whose nextRunAt is not after now, in
// (nextRunAt, id) order, and advances its nextRunAt past now.
func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, j := range s.jobs {
		if j.Enabled && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			due = append(due, j)
		}
	}

	sort.Slice(due, func(a, b int) bool {
		if due[a].NextRunAt.Equal(*due[b].NextRunAt) {
			return due[a].ID < due[b].ID
		}
		return due[a].NextRunAt.Before(*due[b].NextRunAt)
	})

	for _, j := range due {
		logger := s.logger.WithField("job_id", j.ID)

		next, err := nextRun(j.Schedule, now)
		if err != nil {
			logger.WithError(err).Error("Unable to compute next run, disabling job")
			j.Enabled = false
			j.NextRunAt = nil
			s.persist(logger, j)
			continue
		}
		j.NextRunAt = &next

		if _, busy := s.inFlight[j.ID]; busy {
			s.skipped(logger, j.ID)
			s.persist(logger, j)
			continue
		}

		fired := now
		j.LastRunAt = &fired
		s.persist(logger, j)

		s.inFlight[j.ID] = struct{}{}
		s.runs.Add(1)
		go s.execute(j)
	}
}

func (s *Scheduler) persist(logger logrus.FieldLogger, j Job) {
	s.jobs[j.ID] = j

	if err := s.repo.Update(context.Background(), j); err != nil {
		logger.WithError(err).Error("Unable to persist job run times")
	}
}

func (s *Scheduler) skipped(logger logrus.FieldLogger, jobID int64) {
	logger.WithField("event", "overlap_skipped").Warn("Previous run is still in flight, skipping")
	s.observer.OverlapSkipped(jobID)
}

func (s *Scheduler) execute(j Job) {
	defer s.runs.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, j.ID)
		s.mu.Unlock()
	}()

	ctx := appcontext.WithJobId(s.runCtx, j.ID)
	logger := appcontext.LoggerFromContext(s.logger, ctx)

	id := j.ID
	_, err := s.runner.Execute(ctx, Request{
		JobID:           &id,
		Kind:            j.Kind(),
		DestinationType: j.DestinationType,
	})

	if errors.Is(err, ErrOverlapSkipped) {
		s.skipped(logger, j.ID)
	}
}

func nextRun(spec string, now time.Time) (time.Time, error) {
	expr, err := schedule.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}

	next := expr.Next(now)
	if !next.After(now) {
		return time.Time{}, errors.Wrapf(schedule.ErrNeverFires, "%q has no occurrence after %s", spec, now.Format(time.RFC3339))
	}
	return next, nil
}
