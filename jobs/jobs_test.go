package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauravitis/crm-sub001/internal/documents"
	jobmetrics "github.com/gauravitis/crm-sub001/internal/jobs"
)

type captureMailer struct {
	sent []Message
	err  error
}

func (m *captureMailer) Send(ctx context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type captureEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *captureEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

func (e *captureEnqueuer) Close() error {
	return nil
}

type fakeCleaner struct {
	removed   int64
	retention time.Duration
	err       error
}

func (c *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	c.retention = olderThan
	return c.removed, c.err
}

func TestDocumentNotifierEnqueuesPayload(t *testing.T) {
	enq := &captureEnqueuer{}
	notifier := DocumentNotifier{Client: &Client{client: enq}}
	id := uuid.New()

	err := notifier.NotifyDocumentSent(context.Background(), documents.Notification{
		DocumentID: id,
		Number:     "INV24110007",
		Kind:       documents.KindSales,
		PartyName:  "Acme Pharma",
		Recipient:  "buyer@example.com",
		GrandTotal: decimal.RequireFromString("1062"),
	})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskDocumentNotify, enq.tasks[0].Type())

	var payload DocumentNotifyPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, id.String(), payload.DocumentID)
	assert.Equal(t, "1062.00", payload.GrandTotal)
	assert.Equal(t, "SALES", payload.Kind)
}

func TestDocumentNotifierPropagatesQueueErrors(t *testing.T) {
	notifier := DocumentNotifier{Client: &Client{client: &captureEnqueuer{err: errors.New("redis down")}}}
	err := notifier.NotifyDocumentSent(context.Background(), documents.Notification{Number: "INV1"})
	require.Error(t, err)

	require.Error(t, DocumentNotifier{}.NotifyDocumentSent(context.Background(), documents.Notification{}))
}

func TestDocumentNotifyJobSendsMail(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	mailer := &captureMailer{}
	job := NewDocumentNotifyJob(mailer, nil, metrics)

	task, err := NewDocumentNotifyTask(DocumentNotifyPayload{
		DocumentID: uuid.NewString(),
		Number:     "PUR24110002",
		Kind:       "PURCHASE",
		PartyName:  "Solvent Supply",
		Recipient:  " ap@example.com ",
		GrandTotal: "500.00",
	})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ap@example.com", mailer.sent[0].To)
	assert.Equal(t, "Purchase invoice PUR24110002", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Body, "500.00")
	count, err := testutil.GatherAndCount(registry, "crm_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDocumentNotifyJobRejectsBadPayload(t *testing.T) {
	job := NewDocumentNotifyJob(&captureMailer{}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskDocumentNotify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewDocumentNotifyTask(DocumentNotifyPayload{Number: "INV1"})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestDocumentNotifyJobRetriesMailFailures(t *testing.T) {
	job := NewDocumentNotifyJob(&captureMailer{err: errors.New("smtp 451")}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewDocumentNotifyTask(DocumentNotifyPayload{Number: "INV1", Recipient: "a@example.com"})
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestIdempotencyCleanupJob(t *testing.T) {
	cleaner := &fakeCleaner{removed: 12}
	job := NewIdempotencyCleanupJob(cleaner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, cleaner.retention)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	assert.Equal(t, 72*time.Hour, cleaner.retention)

	cleaner.err = errors.New("timeout")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, QueueDefault, body.Queue)
}
