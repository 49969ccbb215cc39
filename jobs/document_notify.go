package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gauravitis/crm-sub001/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Message is an outgoing e-mail handed to the mail collaborator.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages. Delivery itself lives outside this service.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer records messages in the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs the message.
func (m LogMailer) Send(ctx context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail dispatched", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

// DocumentNotifyJob turns document:notify tasks into e-mails.
type DocumentNotifyJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDocumentNotifyJob initialises the notification handler.
func NewDocumentNotifyJob(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DocumentNotifyJob {
	return &DocumentNotifyJob{Mailer: mailer, Logger: logger, Metrics: metrics}
}

// Handle executes the notification.
func (j *DocumentNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Mailer == nil {
		return errors.New("document notify: handler not configured")
	}
	var payload DocumentNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if strings.TrimSpace(payload.Recipient) == "" || payload.Number == "" {
		j.logger().Warn("document notify payload incomplete", slog.String("document_id", payload.DocumentID))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskDocumentNotify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	msg := composeDocumentMessage(payload)
	if err := j.Mailer.Send(ctx, msg); err != nil {
		resultErr = fmt.Errorf("send document %s: %w", payload.Number, err)
		j.logger().Error("document notify failed", slog.String("number", payload.Number), slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddProcessed(TaskDocumentNotify, 1)
	j.logger().Info("document notified",
		slog.String("document_id", payload.DocumentID),
		slog.String("number", payload.Number),
		slog.String("recipient", payload.Recipient))
	return resultErr
}

func composeDocumentMessage(p DocumentNotifyPayload) Message {
	label := "Invoice"
	if p.Kind == "PURCHASE" {
		label = "Purchase invoice"
	}
	return Message{
		To:      strings.TrimSpace(p.Recipient),
		Subject: fmt.Sprintf("%s %s", label, p.Number),
		Body: fmt.Sprintf("Dear %s,\n\nPlease find %s %s with a grand total of %s.\n",
			p.PartyName, strings.ToLower(label), p.Number, p.GrandTotal),
	}
}

func (j *DocumentNotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDocumentNotify))
	}
	return slog.Default().With(slog.String("job", TaskDocumentNotify))
}

func (j *DocumentNotifyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
