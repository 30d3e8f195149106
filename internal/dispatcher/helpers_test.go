package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docflow/internal/dispatcher"
	"docflow/internal/jobqueue"
	"docflow/internal/outline"
	"docflow/internal/taskstore"
	"docflow/internal/tasks"
	"docflow/internal/testsupport"
)

type queuedJob struct {
	ID      string
	Queue   string
	Payload tasks.Payload
}

// fakeQueue records enqueued jobs so tests can play the worker side by hand.
type fakeQueue struct {
	mu      sync.Mutex
	jobs    []queuedJob
	history []queuedJob
	fail    error
	seq     int
}

func (q *fakeQueue) Enqueue(_ context.Context, queue string, payload any, opts jobqueue.Options) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return "", q.fail
	}
	p, ok := payload.(tasks.Payload)
	if !ok {
		return "", errors.New("unexpected payload type")
	}
	q.seq++
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("job-%d", q.seq)
	}
	job := queuedJob{ID: id, Queue: queue, Payload: p}
	q.jobs = append(q.jobs, job)
	q.history = append(q.history, job)
	return job.ID, nil
}

func (q *fakeQueue) pop() (queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return queuedJob{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// take removes and returns the pending job for taskID on queue.
func (q *fakeQueue) take(t *testing.T, queue, taskID string) queuedJob {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.jobs {
		if job.Queue == queue && job.Payload.TaskID == taskID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return job
		}
	}
	t.Fatalf("no %s job queued for %s", queue, taskID)
	return queuedJob{}
}

func (q *fakeQueue) pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.jobs))
	for _, job := range q.jobs {
		ids = append(ids, job.Queue+"/"+job.Payload.TaskID)
	}
	return ids
}

func (q *fakeQueue) sent(queue, taskID string) []queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedJob
	for _, job := range q.history {
		if job.Queue == queue && job.Payload.TaskID == taskID {
			out = append(out, job)
		}
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store *taskstore.Store
	queue *fakeQueue
	clock *clock
	disp  *dispatcher.Dispatcher
}

func newHarness(t *testing.T, mutate func(*dispatcher.Options)) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := &harness{
		store: testsupport.MustOpenStore(t, cfg),
		queue: &fakeQueue{},
		clock: &clock{now: time.Now()},
	}
	opts := dispatcher.Options{
		MaxAutofixAttempts: 3,
		TaskTimeout:        10 * time.Minute,
		Now:                h.clock.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.disp = dispatcher.New(h.store, h.queue, opts)
	return h
}

func (h *harness) schedule(t *testing.T, projectID string, doc outline.Document) dispatcher.ScheduleReport {
	t.Helper()
	report, err := h.disp.ScheduleOutline(context.Background(), projectID, &doc, dispatcher.ScheduleOptions{})
	require.NoError(t, err)
	return report
}

func (h *harness) status(t *testing.T, projectID, id string) tasks.Status {
	t.Helper()
	return testsupport.MustGetTask(t, h.store, projectID, id).Status
}

func (h *harness) deliver(t *testing.T, job queuedJob, result any, workErr error) {
	t.Helper()
	ev := dispatcher.ResultEvent{
		ProjectID: job.Payload.ProjectID,
		TaskID:    job.Payload.TaskID,
		Kind:      tasks.Kind(job.Queue),
		JobID:     job.ID,
	}
	if workErr != nil {
		ev.Error = workErr.Error()
	} else {
		ev.Result = mustJSON(t, result)
	}
	require.NoError(t, h.disp.HandleResult(context.Background(), ev))
}

// worker produces a result for one job, the way a work function would.
type worker func(job queuedJob) (any, error)

// drive plays worker against queued jobs until the queue drains or limit jobs
// have run. It returns the number of jobs run.
func (h *harness) drive(t *testing.T, w worker, limit int) int {
	t.Helper()
	steps := 0
	for steps < limit {
		job, ok := h.queue.pop()
		if !ok {
			break
		}
		result, err := w(job)
		h.deliver(t, job, result, err)
		steps++
	}
	return steps
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func title(p tasks.Payload) string {
	if p.Outline == nil {
		return "document"
	}
	return p.Outline.Title
}

// happyWorker accepts every draft on first verification.
func happyWorker(job queuedJob) (any, error) {
	p := job.Payload
	switch p.Kind {
	case tasks.KindMaterializeFixed:
		return tasks.MaterializeResult{Content: p.FixedContent}, nil
	case tasks.KindPrepare:
		return tasks.PrepareResult{Prompts: []string{"write about " + title(p)}}, nil
	case tasks.KindRetrieve:
		return tasks.RetrieveResult{Snippets: []tasks.Snippet{{Source: "kb", Text: "fact"}}}, nil
	case tasks.KindWrite:
		return tasks.WriteResult{Draft: "# " + title(p) + "\nbody"}, nil
	case tasks.KindVerify:
		return tasks.VerifyOutcome{Status: tasks.VerifyAccept, Draft: p.Draft}, nil
	case tasks.KindAutofix:
		return tasks.AutofixResult{Draft: p.Draft + "\nfixed"}, nil
	case tasks.KindAssemble:
		if p.TaskID == tasks.DocumentSinkID {
			parts := make([]string, 0, len(p.Sections))
			for _, s := range p.Sections {
				parts = append(parts, s.Content)
			}
			return tasks.AssembleResult{Content: strings.Join(parts, "\n\n"), Children: p.Children}, nil
		}
		return tasks.AssembleResult{ChapterNumber: p.Outline.ChapterNumber, Title: p.Outline.Title, Content: p.Draft}, nil
	}
	return nil, errors.New("unexpected kind " + string(p.Kind))
}

func generatedChapter() outline.Document {
	return outline.Document{
		Project: outline.Project{Name: "Audit"},
		Chapters: []outline.Node{
			{ChapterNumber: "1", Title: "Scope", GeneratePrompt: true},
		},
	}
}
