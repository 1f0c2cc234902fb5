package domain

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = ioutil.Discard

	return logger
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func int64Ptr(v int64) *int64 {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// region memRecordRepository
type memRecordRepository struct {
	mu      sync.Mutex
	seq     int64
	records map[int64]Record

	// updateErr, when set, may reject an update before it is stored
	updateErr func(Record) error
}

func newMemRecordRepository(seed ...Record) *memRecordRepository {
	repo := &memRecordRepository{records: make(map[int64]Record)}
	for _, r := range seed {
		if r.ID > repo.seq {
			repo.seq = r.ID
		}
		repo.records[r.ID] = r
	}
	return repo
}

func (m *memRecordRepository) Create(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	r.ID = m.seq
	m.records[r.ID] = r

	return r, nil
}

func (m *memRecordRepository) Update(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		if err := m.updateErr(r); err != nil {
			return err
		}
	}

	if _, ok := m.records[r.ID]; !ok {
		return ErrRecordNotFound
	}
	m.records[r.ID] = r

	return nil
}

func (m *memRecordRepository) Get(_ context.Context, id int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return r, errors.Wrapf(ErrRecordNotFound, "record %d", id)
	}
	return r, nil
}

func (m *memRecordRepository) all() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		result = append(result, r)
	}

	sort.Slice(result, func(a, b int) bool { return result[a].ID > result[b].ID })

	return result
}

func (m *memRecordRepository) Find(_ context.Context, f RecordFilter) ([]Record, error) {
	var result []Record
	for _, r := range m.all() {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.DestinationType != "" && r.DestinationType != f.DestinationType {
			continue
		}
		if f.JobID != nil && (r.JobID == nil || *r.JobID != *f.JobID) {
			continue
		}
		result = append(result, r)
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *memRecordRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

func (m *memRecordRepository) FindExpired(_ context.Context, dest DestinationType, before time.Time) ([]Record, error) {
	var result []Record
	for _, r := range m.all() {
		if r.DestinationType == dest && r.Status.Terminal() && r.FinishedAt != nil && r.FinishedAt.Before(before) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *memRecordRepository) FindUnfinished(_ context.Context) ([]Record, error) {
	var result []Record
	for _, r := range m.all() {
		if !r.Status.Terminal() {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *memRecordRepository) FindLastSuccessful(_ context.Context) ([]Record, error) {
	return nil, nil
}

func (m *memRecordRepository) CountByStatus(_ context.Context) (map[Status]int, error) {
	counts := make(map[Status]int)
	for _, r := range m.all() {
		counts[r.Status]++
	}
	return counts, nil
}

// endregion

// region recordRepositoryMock
type recordRepositoryMock struct {
	mock.Mock
}

func (m *recordRepositoryMock) Create(ctx context.Context, r Record) (Record, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(Record), args.Error(1)
}

func (m *recordRepositoryMock) Update(ctx context.Context, r Record) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *recordRepositoryMock) Get(ctx context.Context, id int64) (Record, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Record), args.Error(1)
}

func (m *recordRepositoryMock) Find(ctx context.Context, f RecordFilter) ([]Record, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]Record), args.Error(1)
}

func (m *recordRepositoryMock) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *recordRepositoryMock) FindExpired(ctx context.Context, dest DestinationType, before time.Time) ([]Record, error) {
	args := m.Called(ctx, dest, before)
	return args.Get(0).([]Record), args.Error(1)
}

func (m *recordRepositoryMock) FindUnfinished(ctx context.Context) ([]Record, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Record), args.Error(1)
}

func (m *recordRepositoryMock) FindLastSuccessful(ctx context.Context) ([]Record, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Record), args.Error(1)
}

func (m *recordRepositoryMock) CountByStatus(ctx context.Context) (map[Status]int, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[Status]int), args.Error(1)
}

// endregion

// region memJobRepository
type memJobRepository struct {
	mu   sync.Mutex
	seq  int64
	jobs map[int64]Job
}

func newMemJobRepository(seed ...Job) *memJobRepository {
	repo := &memJobRepository{jobs: make(map[int64]Job)}
	for _, j := range seed {
		if j.ID > repo.seq {
			repo.seq = j.ID
		}
		repo.jobs[j.ID] = j
	}
	return repo
}

func (m *memJobRepository) Create(_ context.Context, j Job) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	j.ID = m.seq
	m.jobs[j.ID] = j

	return j, nil
}

func (m *memJobRepository) Update(_ context.Context, j Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[j.ID] = j
	return nil
}

func (m *memJobRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.jobs, id)
	return nil
}

func (m *memJobRepository) FindAll(_ context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []Job
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (m *memJobRepository) get(id int64) Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.jobs[id]
}

// endregion

// region memSettingsRepository
type memSettingsRepository struct {
	mu     sync.Mutex
	stored *Settings
	saves  int
}

func (m *memSettingsRepository) Load(_ context.Context) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stored == nil {
		return Settings{}, false, nil
	}
	return *m.stored, true, nil
}

func (m *memSettingsRepository) Save(_ context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stored = &s
	m.saves++
	return nil
}

// endregion

// region staticSettings
type staticSettings struct {
	settings Settings
}

func (s staticSettings) Current() Settings {
	return s.settings
}

// endregion

// region memDestination
type memDestination struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
	corrupt   []byte
}

func newMemDestination() *memDestination {
	return &memDestination{objects: make(map[string][]byte)}
}

func (d *memDestination) Write(_ context.Context, name string, r io.Reader) (string, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	locator := "mem://" + name
	if d.corrupt != nil {
		data = d.corrupt
	}
	d.objects[locator] = data

	return locator, nil
}

func (d *memDestination) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, ok := d.objects[locator]
	if !ok {
		return nil, errors.Errorf("%s does not exist", locator)
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func (d *memDestination) Delete(_ context.Context, locator string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deleteErr != nil {
		return d.deleteErr
	}
	delete(d.objects, locator)
	return nil
}

func (d *memDestination) locators() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []string
	for l := range d.objects {
		result = append(result, l)
	}
	sort.Strings(result)
	return result
}

func (d *memDestination) put(locator string, data string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.objects[locator] = []byte(data)
}

type memDestinations map[DestinationType]*memDestination

func (p memDestinations) Destination(t DestinationType, _ Settings) (Destination, error) {
	d, ok := p[t]
	if !ok {
		return nil, &ValidationError{Field: "destinationType", Reason: "not configured"}
	}
	return d, nil
}

// endregion

// region dumpers
type dumperFunc func(ctx context.Context, db DatabaseSettings, w io.Writer) error

func (f dumperFunc) Dump(ctx context.Context, db DatabaseSettings, w io.Writer) error {
	return f(ctx, db, w)
}

const validDump = "--\n-- PostgreSQL database dump\n--\n\nCREATE TABLE public.users (id integer);\n\nCOPY public.users (id) FROM stdin;\n1\n\\.\n"

func staticDump(content string) dumperFunc {
	return func(_ context.Context, _ DatabaseSettings, w io.Writer) error {
		_, err := io.Copy(w, strings.NewReader(content))
		return err
	}
}

// blockingDump signals started and waits for release or cancellation.
func blockingDump(started chan<- struct{}, release <-chan struct{}) dumperFunc {
	return func(ctx context.Context, _ DatabaseSettings, w io.Writer) error {
		started <- struct{}{}

		select {
		case <-release:
			_, err := io.WriteString(w, validDump)
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type dumperMock struct {
	mock.Mock
}

func (m *dumperMock) Dump(ctx context.Context, db DatabaseSettings, w io.Writer) error {
	args := m.Called(ctx, db, w)
	return args.Error(0)
}

// endregion

// region recordingObserver
type recordingObserver struct {
	mu               sync.Mutex
	finished         map[Status]int
	skipped          []int64
	retentionDeleted int
	retentionFailed  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(map[Status]int)}
}

func (o *recordingObserver) RunFinished(_ DestinationType, status Status, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[status]++
}

func (o *recordingObserver) OverlapSkipped(jobID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, jobID)
}

func (o *recordingObserver) RetentionDeleted(_ DestinationType, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retentionDeleted += count
}

func (o *recordingObserver) RetentionFailed(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retentionFailed += count
}

func (o *recordingObserver) skips() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.skipped...)
}

// endregion
