package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu      sync.Mutex
	calls   []models.IngestRequest
	started chan struct{}
	block   bool
	err     error
}

func (p *fakeProcessor) ProcessDocument(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.block {
		<-ctx.Done()
		return &models.IngestResult{DocumentID: req.DocumentID, Chunks: 4, Stored: 4, Cancelled: 4, Status: models.JobStatusCancelled}, nil
	}
	if p.err != nil {
		return nil, p.err
	}
	return &models.IngestResult{DocumentID: req.DocumentID, Chunks: 2, Stored: 2, Embedded: 2, Status: models.JobStatusSucceeded}, nil
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeResults struct {
	mu   sync.Mutex
	jobs []*models.IngestJob
}

func (f *fakeResults) PublishResult(_ context.Context, job *models.IngestJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs = append(f.jobs, &cp)
	return nil
}

func request(id string) models.IngestRequest {
	return models.IngestRequest{JobID: id, DocumentID: "doc-" + id, CompanyID: "acme", Name: "handbook", Text: "text"}
}

func TestRunRecordsSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	results := &fakeResults{}
	r := NewRunner(&fakeProcessor{}, store, results, RunnerOptions{})

	req := request("")
	job, err := r.Submit(ctx, &req)
	require.NoError(t, err)
	require.NotEmpty(t, req.JobID)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	job, err = r.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.CompletedAt)

	stored, err := r.Get(ctx, req.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, stored.Status)
	assert.Equal(t, 2, stored.Result.Embedded)
	require.Len(t, results.jobs, 1)
	assert.Equal(t, req.JobID, results.jobs[0].ID)
}

func TestRunWithoutRecordCreatesOne(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(&fakeProcessor{err: errors.New("boom")}, NewMemoryStore(), nil, RunnerOptions{})

	job, err := r.Run(ctx, request("j1"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "boom", job.Error)

	stored, err := r.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
}

func TestRunSkipsTerminalJobs(t *testing.T) {
	ctx := context.Background()
	proc := &fakeProcessor{}
	r := NewRunner(proc, NewMemoryStore(), nil, RunnerOptions{})

	_, err := r.Run(ctx, request("j1"))
	require.NoError(t, err)
	_, err = r.Run(ctx, request("j1"))
	require.NoError(t, err)
	assert.Equal(t, 1, proc.count())
}

func TestCancelQueuedJob(t *testing.T) {
	ctx := context.Background()
	proc := &fakeProcessor{}
	r := NewRunner(proc, NewMemoryStore(), nil, RunnerOptions{})

	req := request("j1")
	_, err := r.Submit(ctx, &req)
	require.NoError(t, err)
	require.NoError(t, r.Cancel(ctx, "j1"))

	job, err := r.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Zero(t, proc.count())

	assert.ErrorIs(t, r.Cancel(ctx, "j1"), ErrJobFinished)
	assert.ErrorIs(t, r.Cancel(ctx, "missing"), ErrJobNotFound)
}

func TestCancelRunningJob(t *testing.T) {
	ctx := context.Background()
	proc := &fakeProcessor{started: make(chan struct{}, 1), block: true}
	r := NewRunner(proc, NewMemoryStore(), nil, RunnerOptions{})

	done := make(chan *models.IngestJob, 1)
	go func() {
		job, _ := r.Run(ctx, request("j1"))
		done <- job
	}()
	<-proc.started
	assert.Equal(t, 1, r.registry.Running())
	require.NoError(t, r.Cancel(ctx, "j1"))

	select {
	case job := <-done:
		assert.Equal(t, models.JobStatusCancelled, job.Status)
		assert.Equal(t, 4, job.Result.Cancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop after cancel")
	}
	assert.Zero(t, r.registry.Running())
}

func TestCancelObservedThroughStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	proc := &fakeProcessor{started: make(chan struct{}, 1), block: true}
	owner := NewRunner(proc, store, nil, RunnerOptions{PollInterval: 10 * time.Millisecond})
	other := NewRunner(&fakeProcessor{}, store, nil, RunnerOptions{})

	done := make(chan *models.IngestJob, 1)
	go func() {
		job, _ := owner.Run(ctx, request("j1"))
		done <- job
	}()
	<-proc.started
	require.NoError(t, other.Cancel(ctx, "j1"))

	select {
	case job := <-done:
		assert.Equal(t, models.JobStatusCancelled, job.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not observe cancellation")
	}
}

func TestLocalQueue(t *testing.T) {
	ctx := context.Background()
	proc := &fakeProcessor{}
	store := NewMemoryStore()
	q := NewLocalQueue(ctx, NewRunner(proc, store, nil, RunnerOptions{}), 2)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, request(id)))
	}
	q.Wait()
	assert.Equal(t, 3, proc.count())
	job, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisherKeysByDocument(t *testing.T) {
	ctx := context.Background()
	requests, results := &fakeWriter{}, &fakeWriter{}
	p := &Publisher{requests: requests, results: results, log: logger.Discard()}

	req := request("j1")
	require.NoError(t, p.Enqueue(ctx, req))
	require.Len(t, requests.msgs, 1)
	assert.Equal(t, "doc-j1", string(requests.msgs[0].Key))

	var decoded models.IngestRequest
	require.NoError(t, json.Unmarshal(requests.msgs[0].Value, &decoded))
	assert.Equal(t, "text", decoded.Text)
	assert.Equal(t, "j1", decoded.JobID)

	require.NoError(t, p.PublishResult(ctx, NewJob(req, time.Now())))
	require.Len(t, results.msgs, 1)

	empty := NewPublisher(nil, nil, nil)
	assert.Error(t, empty.Enqueue(ctx, req))
	assert.NoError(t, empty.PublishResult(ctx, NewJob(req, time.Now())))
}

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestConsumerRunsAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := &fakeProcessor{}
	store := NewMemoryStore()
	reader := &fakeReader{msgs: make(chan kafka.Message, 3)}
	c := newConsumer(reader, NewRunner(proc, store, nil, RunnerOptions{}), 2, nil)

	good, err := json.Marshal(request("j1"))
	require.NoError(t, err)
	reader.msgs <- kafka.Message{Offset: 1, Value: good}
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte("{not json")}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, 1, proc.count())
	job, err := store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
}
