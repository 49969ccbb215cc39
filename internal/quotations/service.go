package quotations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gauravitis/crm-sub001/internal/fulfillment"
	"github.com/gauravitis/crm-sub001/internal/pricing"
	"github.com/gauravitis/crm-sub001/internal/sequence"
	"github.com/gauravitis/crm-sub001/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Quotation, error)
	List(ctx context.Context, limit, offset int) ([]Quotation, error)
}

// NumberPort hands out quotation numbers.
type NumberPort interface {
	Next(ctx context.Context, docType sequence.DocType, prefix string) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates quotation persistence and fulfillment updates.
type Service struct {
	repo    RepositoryPort
	numbers NumberPort
	policy  fulfillment.OverpaymentPolicy
	audit   AuditPort
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. A nil policy allows overpayment.
func NewService(repo RepositoryPort, numbers NumberPort, policy fulfillment.OverpaymentPolicy, audit AuditPort, prefix string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = fulfillment.AllowOverpayment{}
	}
	if prefix == "" {
		prefix = "QUO"
	}
	return &Service{
		repo:    repo,
		numbers: numbers,
		policy:  policy,
		audit:   audit,
		prefix:  prefix,
		logger:  logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Create prices and numbers a new quotation.
func (s *Service) Create(ctx context.Context, in CreateInput) (Quotation, error) {
	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		return Quotation{}, fmt.Errorf("%w: customer name required", pricing.ErrInvalidLineItem)
	}
	if len(in.Items) == 0 {
		return Quotation{}, fmt.Errorf("%w: at least one line required", pricing.ErrInvalidLineItem)
	}
	breakdowns, totals, err := pricing.ComputeDocument(in.Items, in.DeliveryCharges)
	if err != nil {
		return Quotation{}, err
	}
	number, err := s.numbers.Next(ctx, sequence.DocTypeQuotation, s.prefix)
	if err != nil {
		return Quotation{}, err
	}
	now := s.now()
	q := Quotation{
		ID:           uuid.New(),
		Number:       number,
		CustomerName: name,
		Notes:        in.Notes,
		Lines:        make([]Line, len(in.Items)),
		Totals:       totals,
		Payment:      fulfillment.NewPaymentLedger(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, item := range in.Items {
		q.Lines[i] = Line{LineNo: i + 1, LineItem: item, LineBreakdown: breakdowns[i], Delivery: fulfillment.NewDeliveryRecord()}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, q)
	})
	if err != nil {
		return Quotation{}, fmt.Errorf("insert quotation: %w", err)
	}
	s.record(ctx, "quotations:create", q.ID, map[string]any{"number": q.Number, "grand_total": q.Totals.GrandTotal.String()})
	return q.derive(), nil
}

// Get loads a quotation with its derived fulfillment state.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return Quotation{}, err
	}
	return q.derive(), nil
}

// List pages through quotations, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Quotation, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = items[i].derive()
	}
	return items, nil
}

// UpdateDelivery records the cumulative delivered quantity of one line and
// appends one history entry.
func (s *Service) UpdateDelivery(ctx context.Context, id uuid.UUID, upd DeliveryUpdate) (Quotation, error) {
	var out Quotation
	var entry fulfillment.HistoryEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		idx, ok := q.line(upd.LineNo)
		if !ok {
			return fmt.Errorf("%w: %d", ErrLineNotFound, upd.LineNo)
		}
		line := q.Lines[idx]
		record, e, err := line.Delivery.Record(line.Quantity, upd.DeliveredQty, strings.TrimSpace(upd.Notes), s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateDelivery(ctx, id, upd.LineNo, record.DeliveredQty, e); err != nil {
			return err
		}
		lines := append([]Line(nil), q.Lines...)
		lines[idx].Delivery = record
		q.Lines = lines
		q.UpdatedAt = e.Date
		out = q
		entry = e
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	out = out.derive()
	s.record(ctx, "quotations:delivery", id, map[string]any{
		"line_no":         upd.LineNo,
		"delivered_qty":   entry.Quantity,
		"line_status":     string(entry.Status),
		"delivery_status": string(out.Fulfillment.DeliveryStatus),
	})
	return out, nil
}

// RecordPayment adds a payment to the quotation's ledger. Whether the paid
// total may exceed the grand total is decided by the configured policy.
func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, p Payment) (Quotation, error) {
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now()
	}
	var out Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		ledger, err := q.Payment.Record(p.Amount, p.PaidAt, q.Totals.GrandTotal, s.policy)
		if err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, id, p); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, id, ledger, s.now()); err != nil {
			return err
		}
		q.Payment = ledger
		out = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	if out.Payment.Flagged {
		s.logger.Warn("quotation overpaid",
			slog.String("quotation_id", id.String()),
			slog.String("amount_paid", out.Payment.AmountPaid.String()),
			slog.String("grand_total", out.Totals.GrandTotal.String()))
	}
	s.record(ctx, "quotations:payment", id, map[string]any{
		"amount":      p.Amount.String(),
		"amount_paid": out.Payment.AmountPaid.String(),
		"policy":      s.policy.Name(),
	})
	return out.derive(), nil
}

// SetPaymentStatus stores the operator chosen payment status.
func (s *Service) SetPaymentStatus(ctx context.Context, id uuid.UUID, status fulfillment.PaymentStatus) (Quotation, error) {
	var out Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		ledger, err := q.Payment.WithStatus(status)
		if err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, id, ledger, s.now()); err != nil {
			return err
		}
		q.Payment = ledger
		out = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.record(ctx, "quotations:payment_status", id, map[string]any{"status": string(status)})
	return out.derive(), nil
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "quotation",
		EntityID: id.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit quotation", slog.String("action", action), slog.Any("error", err))
	}
}
