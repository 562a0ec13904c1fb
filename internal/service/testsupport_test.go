package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/service/publisher"
	"github.com/omarreid/syndicate/internal/store"
)

// fakeTaskStore is an in-memory TaskStore implementing the same optimistic
// lock protocol as the gorm store.
type fakeTaskStore struct {
	mu      sync.Mutex
	tasks   map[string]*models.Task
	saves   int
	loadErr error
	saveErr error
}

func newFakeTaskStore(tasks ...*models.Task) *fakeTaskStore {
	s := &fakeTaskStore{tasks: make(map[string]*models.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = cloneTask(t)
	}
	return s
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	if t.PublishResults != nil {
		c.PublishResults = make(models.ResultMap, len(t.PublishResults))
		for k, v := range t.PublishResults {
			c.PublishResults[k] = v
		}
	}
	if t.Checkpoint.Platforms != nil {
		c.Checkpoint.Platforms = make(map[string]models.PlatformProgress, len(t.Checkpoint.Platforms))
		for k, v := range t.Checkpoint.Platforms {
			c.Checkpoint.Platforms[k] = v
		}
	}
	c.Platforms = append(models.StringArray(nil), t.Platforms...)
	return &c
}

func (s *fakeTaskStore) Create(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Version = 1
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *fakeTaskStore) Load(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, models.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *fakeTaskStore) Save(ctx context.Context, t *models.Task, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cur, ok := s.tasks[t.ID]
	if !ok {
		return models.ErrTaskNotFound
	}
	if cur.Version != expectedVersion {
		return models.ErrConflict
	}
	stored := cloneTask(t)
	stored.Version = expectedVersion + 1
	s.tasks[t.ID] = stored
	t.Version = expectedVersion + 1
	s.saves++
	return nil
}

func (s *fakeTaskStore) List(ctx context.Context) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	for _, t := range s.tasks {
		out = append(out, *cloneTask(t))
	}
	return out, nil
}

func (s *fakeTaskStore) get(id string) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTask(s.tasks[id])
}

// fakeJobStore is an in-memory JobStore.
type fakeJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.ScheduledJob // by job id
	dueErr      error
	scheduleErr error
	removed     []string
	rescheduls  []time.Time
	lastOpts    store.ScheduleOptions
}

func newFakeJobStore(jobs ...*models.ScheduledJob) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]*models.ScheduledJob)}
	for _, j := range jobs {
		c := *j
		s.jobs[j.ID] = &c
	}
	return s
}

func (s *fakeJobStore) Schedule(ctx context.Context, taskID string, runAt time.Time, opts store.ScheduleOptions) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduleErr != nil {
		return nil, s.scheduleErr
	}
	s.rescheduls = append(s.rescheduls, runAt)
	s.lastOpts = opts
	for _, j := range s.jobs {
		if j.TaskID == taskID {
			j.NextRunTime = runAt
			c := *j
			return &c, nil
		}
	}
	job := &models.ScheduledJob{
		ID:               uuid.NewString(),
		TaskID:           taskID,
		NextRunTime:      runAt,
		MisfireGraceSecs: int64(opts.MisfireGrace / time.Second),
		Coalesce:         opts.Coalesce,
		MaxInstances:     opts.MaxInstances,
	}
	s.jobs[job.ID] = job
	c := *job
	return &c, nil
}

func (s *fakeJobStore) Cancel(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.TaskID == taskID {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *fakeJobStore) Remove(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	s.removed = append(s.removed, jobID)
	return nil
}

func (s *fakeJobStore) List(ctx context.Context) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledJob
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (s *fakeJobStore) Due(ctx context.Context, now time.Time) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	var out []models.ScheduledJob
	for _, j := range s.jobs {
		if !j.NextRunTime.After(now) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeJobStore) has(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}

// fakeConnStore answers connection lookups from a fixed map.
type fakeConnStore struct {
	conns map[string]*models.Connection // key: owner/platform
	err   error
}

func newFakeConnStore() *fakeConnStore {
	return &fakeConnStore{conns: make(map[string]*models.Connection)}
}

func (s *fakeConnStore) add(owner, platform string) *models.Connection {
	conn := &models.Connection{
		Owner:       owner,
		Platform:    platform,
		BaseURL:     "https://example.test",
		AccessToken: "token-" + platform,
		Enabled:     true,
	}
	s.conns[owner+"/"+platform] = conn
	return conn
}

func (s *fakeConnStore) GetConnection(ctx context.Context, owner, platform string) (*models.Connection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.conns[owner+"/"+platform], nil
}

// fakePublisher is a scriptable platform adapter.
type fakePublisher struct {
	name  string
	delay time.Duration

	mu         sync.Mutex
	calls      int
	prepCalls  int
	publishErr error
	prepareErr error
	mediaIDs   []string
	seenMedia  [][]string
}

func (f *fakePublisher) Platform() string { return f.name }

func (f *fakePublisher) Publish(ctx context.Context, content *publisher.Content, conn *models.Connection) (*models.PublishResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls++
	f.seenMedia = append(f.seenMedia, content.MediaUploadIDs)
	err := f.publishErr
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &models.PublishResult{
		Platform:    f.name,
		Status:      models.OutcomeSuccess,
		ExternalID:  "ext-" + f.name,
		URL:         fmt.Sprintf("https://%s.example/post/1", f.name),
		PublishedAt: &now,
	}, nil
}

func (f *fakePublisher) publishCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeMediaPublisher additionally implements the two-step upload.
type fakeMediaPublisher struct {
	fakePublisher
}

func (f *fakeMediaPublisher) PrepareMedia(ctx context.Context, content *publisher.Content, conn *models.Connection) ([]string, error) {
	f.mu.Lock()
	f.prepCalls++
	err := f.prepareErr
	ids := f.mediaIDs
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return ids, nil
}

// fakeExecutor counts executions per task, optionally blocking or failing.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   map[string]int
	err     error
	release chan struct{} // when set, Execute blocks until closed
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{calls: make(map[string]int)}
}

func (e *fakeExecutor) Execute(ctx context.Context, taskID string) (*ExecutionReport, error) {
	e.mu.Lock()
	e.calls[taskID]++
	release := e.release
	err := e.err
	e.mu.Unlock()

	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &ExecutionReport{TaskID: taskID, Status: models.StatusPublished}, nil
}

func (e *fakeExecutor) callsFor(taskID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[taskID]
}

// newTestTask builds a publishable task fixture.
func newTestTask(status models.TaskStatus, platforms ...string) *models.Task {
	return &models.Task{
		ID:        uuid.NewString(),
		Title:     "Launch notes",
		Owner:     "owner-1",
		Content:   `{"body":"hello world","tags":["release"]}`,
		Platforms: models.StringArray(platforms),
		Status:    status,
		Version:   1,
	}
}
