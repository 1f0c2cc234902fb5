package domain

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// region jobRunnerMock
type jobRunnerMock struct {
	mock.Mock
}

func (m *jobRunnerMock) Execute(ctx context.Context, req Request) (Record, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Record), args.Error(1)
}

// endregion

var schedulerNow = time.Date(2025, 5, 26, 10, 0, 0, 0, time.UTC)

func newTestScheduler(runner jobRunner, seed ...Job) (*Scheduler, *memJobRepository, *recordingObserver) {
	repo := newMemJobRepository(seed...)
	observer := newRecordingObserver()

	s := NewScheduler(discardLogger(), repo, runner, observer)
	s.now = fixedClock(schedulerNow)

	return s, repo, observer
}

func requestFor(jobID int64) interface{} {
	return mock.MatchedBy(func(req Request) bool {
		return req.JobID != nil && *req.JobID == jobID
	})
}

// region Test: registration
func TestScheduler_Register(t *testing.T) {
	s, repo, _ := newTestScheduler(&jobRunnerMock{})

	j, err := s.Register(context.Background(), Job{
		Name:            "nightly",
		DestinationType: DestinationLocal,
		Schedule:        "0 2 * * *",
		Enabled:         true,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), j.ID)
	require.NotNil(t, j.NextRunAt)
	assert.Equal(t, time.Date(2025, 5, 27, 2, 0, 0, 0, time.UTC), *j.NextRunAt)
	assert.Nil(t, j.LastRunAt)
	assert.Equal(t, schedulerNow, j.CreatedAt)
	assert.Equal(t, j, repo.get(j.ID))
	assert.Equal(t, "daily", j.Kind())
}

func TestScheduler_Register_Disabled(t *testing.T) {
	s, _, _ := newTestScheduler(&jobRunnerMock{})

	j, err := s.Register(context.Background(), Job{
		Name:            "paused",
		DestinationType: DestinationLocal,
		Schedule:        "0 3 * * 0",
	})

	require.NoError(t, err)
	assert.False(t, j.Enabled)
	assert.Nil(t, j.NextRunAt)
}

func TestScheduler_Register_InvalidSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(&jobRunnerMock{})

	_, err := s.Register(context.Background(), Job{Name: "x", DestinationType: DestinationLocal, Schedule: "61 * * * *", Enabled: true})

	assert.True(t, IsValidation(err))
	assert.Empty(t, s.Jobs())
}

func TestScheduler_Register_ScheduleThatNeverFires(t *testing.T) {
	s, repo, _ := newTestScheduler(&jobRunnerMock{})

	_, err := s.Register(context.Background(), Job{Name: "feb30", DestinationType: DestinationLocal, Schedule: "0 0 30 2 *", Enabled: true})

	assert.True(t, IsValidation(err))
	assert.Empty(t, s.Jobs())
	assert.Empty(t, repo.jobs)
}

func TestScheduler_FireDue_DisablesScheduleThatNeverFires(t *testing.T) {
	runner := &jobRunnerMock{}
	zero := time.Time{}

	s, repo, _ := newTestScheduler(runner, Job{
		ID:              1,
		Name:            "feb30",
		DestinationType: DestinationLocal,
		Schedule:        "0 0 30 2 *",
		Enabled:         true,
		NextRunAt:       &zero,
	})
	require.NoError(t, s.Load(context.Background()))

	s.fireDue(schedulerNow)
	s.fireDue(schedulerNow)

	j, err := s.Job(1)
	require.NoError(t, err)
	assert.False(t, j.Enabled)
	assert.Nil(t, j.NextRunAt)
	assert.False(t, repo.get(1).Enabled)

	_, ok := s.nextDelay(schedulerNow)
	assert.False(t, ok)

	runner.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestScheduler_Toggle_Idempotent(t *testing.T) {
	s, _, _ := newTestScheduler(&jobRunnerMock{})

	j, err := s.Register(context.Background(), Job{Name: "a", DestinationType: DestinationLocal, Schedule: "0 * * * *", Enabled: true})
	require.NoError(t, err)

	s.now = fixedClock(schedulerNow.Add(10 * time.Minute))

	same, err := s.Toggle(context.Background(), j.ID, true)
	require.NoError(t, err)
	assert.Equal(t, j, same)

	off, err := s.Toggle(context.Background(), j.ID, false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)
	assert.Nil(t, off.NextRunAt)

	offAgain, err := s.Toggle(context.Background(), j.ID, false)
	require.NoError(t, err)
	assert.Equal(t, off, offAgain)

	on, err := s.Toggle(context.Background(), j.ID, true)
	require.NoError(t, err)
	require.NotNil(t, on.NextRunAt)
	assert.Equal(t, time.Date(2025, 5, 26, 11, 0, 0, 0, time.UTC), *on.NextRunAt)

	_, err = s.Toggle(context.Background(), 99, true)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestScheduler_Update(t *testing.T) {
	s, repo, _ := newTestScheduler(&jobRunnerMock{})

	j, err := s.Register(context.Background(), Job{Name: "a", DestinationType: DestinationLocal, Schedule: "0 2 * * *", Enabled: true})
	require.NoError(t, err)

	j.Schedule = "0 1 1 * *"
	j.DestinationType = DestinationObjectStore

	updated, err := s.Update(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC), *updated.NextRunAt)
	assert.Equal(t, DestinationObjectStore, repo.get(j.ID).DestinationType)
	assert.Equal(t, "monthly", updated.Kind())

	_, err = s.Update(context.Background(), Job{ID: 42, Schedule: "0 2 * * *"})
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestScheduler_Unregister(t *testing.T) {
	s, repo, _ := newTestScheduler(&jobRunnerMock{})

	assert.NoError(t, s.Unregister(context.Background(), 5))

	j, err := s.Register(context.Background(), Job{Name: "a", DestinationType: DestinationLocal, Schedule: "0 2 * * *", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.Unregister(context.Background(), j.ID))
	require.NoError(t, s.Unregister(context.Background(), j.ID))

	_, err = s.Job(j.ID)
	assert.True(t, errors.Is(err, ErrJobNotFound))

	all, _ := repo.FindAll(context.Background())
	assert.Empty(t, all)
}

// endregion

// region Test: firing
func TestScheduler_fireDue_SkipsJobWithRunInFlight(t *testing.T) {
	release := make(chan struct{})

	runner := &jobRunnerMock{}
	runner.On("Execute", mock.Anything, requestFor(1)).
		Run(func(mock.Arguments) { <-release }).
		Return(Record{ID: 1, Status: StatusCompleted}, nil).
		Once()

	s, repo, observer := newTestScheduler(runner)

	_, err := s.Register(context.Background(), Job{Name: "busy", DestinationType: DestinationLocal, Schedule: "* * * * *", Enabled: true})
	require.NoError(t, err)

	first := schedulerNow.Add(time.Minute)
	s.fireDue(first)

	second := schedulerNow.Add(2 * time.Minute)
	s.fireDue(second)

	assert.Equal(t, []int64{1}, observer.skips())

	j, err := s.Job(1)
	require.NoError(t, err)
	assert.Equal(t, first, *j.LastRunAt)
	assert.Equal(t, second.Add(time.Minute), *j.NextRunAt)
	assert.Equal(t, j, repo.get(1))

	close(release)
	require.NoError(t, s.Stop(context.Background()))

	runner.AssertNumberOfCalls(t, "Execute", 1)
}

func TestScheduler_fireDue_ExecutorRejection(t *testing.T) {
	runner := &jobRunnerMock{}
	runner.On("Execute", mock.Anything, requestFor(1)).
		Return(Record{}, errors.Wrap(ErrOverlapSkipped, "job 1"))

	s, _, observer := newTestScheduler(runner)

	_, err := s.Register(context.Background(), Job{Name: "a", DestinationType: DestinationLocal, Schedule: "* * * * *", Enabled: true})
	require.NoError(t, err)

	s.fireDue(schedulerNow.Add(time.Minute))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, []int64{1}, observer.skips())
}

func TestScheduler_fireDue_OnlyDueEnabledJobs(t *testing.T) {
	runner := &jobRunnerMock{}
	runner.On("Execute", mock.Anything, mock.MatchedBy(func(req Request) bool {
		return *req.JobID == 1 && req.Kind == "daily" && req.DestinationType == DestinationLocal
	})).Return(Record{}, nil)
	runner.On("Execute", mock.Anything, mock.MatchedBy(func(req Request) bool {
		return *req.JobID == 2 && req.Kind == "hourly" && req.DestinationType == DestinationObjectStore
	})).Return(Record{}, nil)

	s, _, _ := newTestScheduler(runner)

	ctx := context.Background()
	_, _ = s.Register(ctx, Job{Name: "daily", DestinationType: DestinationLocal, Schedule: "0 2 * * *", Enabled: true})
	_, _ = s.Register(ctx, Job{Name: "hourly", DestinationType: DestinationObjectStore, Schedule: "0 * * * *", Enabled: true})
	_, _ = s.Register(ctx, Job{Name: "off", DestinationType: DestinationLocal, Schedule: "0 * * * *"})
	_, _ = s.Register(ctx, Job{Name: "later", DestinationType: DestinationLocal, Schedule: "0 3 * * 0", Enabled: true})

	s.fireDue(time.Date(2025, 5, 27, 2, 0, 0, 0, time.UTC))
	require.NoError(t, s.Stop(ctx))

	runner.AssertNumberOfCalls(t, "Execute", 2)
	runner.AssertExpectations(t)

	later, _ := s.Job(4)
	assert.Nil(t, later.LastRunAt)
}

func TestScheduler_Load_FiresMissedRunOnce(t *testing.T) {
	missed := time.Date(2025, 5, 24, 2, 0, 0, 0, time.UTC)

	runner := &jobRunnerMock{}
	runner.On("Execute", mock.Anything, requestFor(1)).Return(Record{}, nil).Once()

	s, _, _ := newTestScheduler(runner,
		Job{ID: 1, Name: "nightly", DestinationType: DestinationLocal, Schedule: "0 2 * * *", Enabled: true, NextRunAt: &missed},
		Job{ID: 2, Name: "paused", DestinationType: DestinationLocal, Schedule: "0 2 * * *", NextRunAt: &missed},
	)

	require.NoError(t, s.Load(context.Background()))

	s.fireDue(schedulerNow)
	s.fireDue(schedulerNow)
	require.NoError(t, s.Stop(context.Background()))

	runner.AssertNumberOfCalls(t, "Execute", 1)

	j, _ := s.Job(1)
	assert.Equal(t, time.Date(2025, 5, 27, 2, 0, 0, 0, time.UTC), *j.NextRunAt)

	paused, _ := s.Job(2)
	assert.Nil(t, paused.NextRunAt)
}

func TestScheduler_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	fired := make(chan struct{}, 1)
	overdue := time.Now().UTC().Add(-time.Hour)

	runner := &jobRunnerMock{}
	runner.On("Execute", mock.Anything, requestFor(1)).
		Run(func(mock.Arguments) { fired <- struct{}{} }).
		Return(Record{}, nil)

	repo := newMemJobRepository(Job{ID: 1, Name: "overdue", DestinationType: DestinationLocal, Schedule: "0 2 * * *", Enabled: true, NextRunAt: &overdue})
	s := NewScheduler(discardLogger(), repo, runner, nil)

	require.NoError(t, s.Load(context.Background()))
	s.Start()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("overdue job was not fired")
	}

	_, err := s.Register(context.Background(), Job{Name: "b", DestinationType: DestinationLocal, Schedule: "0 0 1 1 *", Enabled: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

// endregion
