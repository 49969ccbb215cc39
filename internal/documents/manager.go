package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gauravitis/crm-sub001/internal/inventory"
	"github.com/gauravitis/crm-sub001/internal/pricing"
	"github.com/gauravitis/crm-sub001/internal/sequence"
	"github.com/gauravitis/crm-sub001/internal/shared"
)

// RepositoryPort persists documents. Insert, Update and Delete write the
// document and its lines atomically.
type RepositoryPort interface {
	Insert(ctx context.Context, doc Document) error
	Get(ctx context.Context, id uuid.UUID) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	Update(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id uuid.UUID) error
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
}

// LedgerPort moves stock.
type LedgerPort interface {
	ApplyQuantityDelta(ctx context.Context, lines []inventory.Line, dir inventory.Direction, ref inventory.Reference) (inventory.Batch, error)
	ApplyAdjustments(ctx context.Context, adjs []inventory.Adjustment, ref inventory.Reference) (inventory.Batch, error)
}

// NumberPort hands out document numbers.
type NumberPort interface {
	Next(ctx context.Context, docType sequence.DocType, prefix string) (string, error)
}

// LockerPort serialises mutations of one document across processes.
type LockerPort interface {
	Acquire(ctx context.Context, key string) (shared.ReleaseFunc, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records document outcomes.
type MetricsPort interface {
	DocumentAction(action, outcome string)
	ReconciliationRequired()
}

// Notifier forwards sent documents to the e-mail collaborator.
type Notifier interface {
	NotifyDocumentSent(ctx context.Context, n Notification) error
}

// Prefixes maps each kind to its number prefix.
type Prefixes map[Kind]string

// Options groups the optional collaborators of Manager.
type Options struct {
	Locker   LockerPort
	Audit    AuditPort
	Metrics  MetricsPort
	Notifier Notifier
	Prefixes Prefixes
	Logger   *slog.Logger
}

const refModule = "DOCUMENT"

// Manager coordinates pricing, numbering, the inventory ledger and
// persistence for invoices.
type Manager struct {
	repo     RepositoryPort
	ledger   LedgerPort
	numbers  NumberPort
	locker   LockerPort
	audit    AuditPort
	metrics  MetricsPort
	notifier Notifier
	prefixes Prefixes
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager constructs Manager.
func NewManager(repo RepositoryPort, ledger LedgerPort, numbers NumberPort, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefixes := Prefixes{KindSales: "INV", KindPurchase: "PUR"}
	for k, p := range opts.Prefixes {
		if p != "" {
			prefixes[k] = p
		}
	}
	return &Manager{
		repo:     repo,
		ledger:   ledger,
		numbers:  numbers,
		locker:   opts.Locker,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		prefixes: prefixes,
		logger:   logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Create prices the document, applies its stock effect, numbers it and
// persists it. Stock is only left moved when the document is stored.
func (m *Manager) Create(ctx context.Context, in Input) (doc Document, err error) {
	defer func() { m.observe("create", err) }()
	in.PartyName = strings.TrimSpace(in.PartyName)
	lines, totals, err := build(in)
	if err != nil {
		return Document{}, err
	}
	id := uuid.New()
	ref := inventory.Reference{Module: refModule, ID: id.String(), Note: "create"}
	batch, err := m.ledger.ApplyQuantityDelta(ctx, stockLines(in.Items), in.Kind.Direction(), ref)
	if err != nil {
		return Document{}, err
	}

	number, err := m.numbers.Next(ctx, in.Kind.DocType(), m.prefixes[in.Kind])
	if err != nil {
		return Document{}, m.compensate(ctx, "create", id, batch, err)
	}
	now := m.now()
	doc = Document{
		ID:        id,
		Kind:      in.Kind,
		Number:    number,
		PartyName: in.PartyName,
		Notes:     in.Notes,
		Lines:     lines,
		Totals:    totals,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.Insert(ctx, doc); err != nil {
		return Document{}, m.compensate(ctx, "create", id, batch, fmt.Errorf("insert document: %w", err))
	}
	m.record(ctx, "documents:create", doc, map[string]any{"batch_id": batch.ID.String()})
	m.logger.Info("document created",
		slog.String("id", doc.ID.String()),
		slog.String("number", doc.Number),
		slog.String("kind", string(doc.Kind)))
	return doc, nil
}

// Update replaces the lines of a document. Only the net per-item difference
// between the old and the new stock effect is posted, in a single batch.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, in Input) (doc Document, err error) {
	defer func() { m.observe("update", err) }()
	in.PartyName = strings.TrimSpace(in.PartyName)
	lines, totals, err := build(in)
	if err != nil {
		return Document{}, err
	}
	release, err := m.lock(ctx, id)
	if err != nil {
		return Document{}, err
	}
	defer m.unlock(ctx, id, release)

	old, err := m.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	adjs, err := inventory.NetDelta(old.StockLines(), old.Kind.Direction(), stockLines(in.Items), in.Kind.Direction())
	if err != nil {
		return Document{}, err
	}
	ref := inventory.Reference{Module: refModule, ID: id.String(), Note: "update"}
	batch, err := m.ledger.ApplyAdjustments(ctx, adjs, ref)
	if err != nil {
		return Document{}, err
	}

	doc = old
	doc.Kind = in.Kind
	doc.PartyName = in.PartyName
	doc.Notes = in.Notes
	doc.Lines = lines
	doc.Totals = totals
	doc.UpdatedAt = m.now()
	if err := m.repo.Update(ctx, doc); err != nil {
		return Document{}, m.compensate(ctx, "update", id, batch, fmt.Errorf("update document: %w", err))
	}
	m.record(ctx, "documents:update", doc, map[string]any{
		"batch_id":      batch.ID.String(),
		"movements":     len(batch.Movements),
		"previous_kind": string(old.Kind),
	})
	return doc, nil
}

// Delete reverses the stock effect of a document and removes it. When the
// reversal is rejected, e.g. because purchased stock was already sold, the
// document is kept and ErrDeleteRefused is returned.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { m.observe("delete", err) }()
	release, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer m.unlock(ctx, id, release)

	doc, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	ref := inventory.Reference{Module: refModule, ID: id.String(), Note: "delete"}
	batch, err := m.ledger.ApplyQuantityDelta(ctx, doc.StockLines(), doc.Kind.Direction().Invert(), ref)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteRefused, err)
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return m.compensate(ctx, "delete", id, batch, fmt.Errorf("delete document: %w", err))
	}
	m.record(ctx, "documents:delete", doc, map[string]any{"batch_id": batch.ID.String()})
	m.logger.Info("document deleted", slog.String("id", id.String()), slog.String("number", doc.Number))
	return nil
}

// Get loads a document.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	return m.repo.Get(ctx, id)
}

// List pages through documents, newest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, filter.Kind)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return m.repo.List(ctx, filter)
}

// MarkSent hands the document to the notifier and stamps it as sent.
func (m *Manager) MarkSent(ctx context.Context, id uuid.UUID, recipient string) (doc Document, err error) {
	defer func() { m.observe("send", err) }()
	release, err := m.lock(ctx, id)
	if err != nil {
		return Document{}, err
	}
	defer m.unlock(ctx, id, release)

	doc, err = m.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyDocumentSent(ctx, Notification{
			DocumentID: doc.ID,
			Number:     doc.Number,
			Kind:       doc.Kind,
			PartyName:  doc.PartyName,
			Recipient:  strings.TrimSpace(recipient),
			GrandTotal: doc.Totals.GrandTotal,
		}); err != nil {
			return Document{}, fmt.Errorf("notify document: %w", err)
		}
	}
	at := m.now()
	if err := m.repo.MarkSent(ctx, id, at); err != nil {
		return Document{}, err
	}
	doc.SentAt = &at
	m.record(ctx, "documents:send", doc, map[string]any{"recipient": recipient})
	return doc, nil
}

// compensate posts the inverse of batch after a later step failed. The
// inverse runs even when ctx was cancelled.
func (m *Manager) compensate(ctx context.Context, action string, id uuid.UUID, batch inventory.Batch, cause error) error {
	inverse := batch.Inverse()
	if len(inverse) == 0 {
		return cause
	}
	ref := inventory.Reference{Module: refModule, ID: id.String(), Note: action + " compensation"}
	if _, err := m.ledger.ApplyAdjustments(context.WithoutCancel(ctx), inverse, ref); err != nil {
		if m.metrics != nil {
			m.metrics.ReconciliationRequired()
		}
		m.logger.Error("document compensation failed, reconciliation required",
			slog.String("action", action),
			slog.String("document_id", id.String()),
			slog.String("batch_id", batch.ID.String()),
			slog.Any("cause", cause),
			slog.Any("error", err))
		return &ReconciliationError{
			Action:          action,
			DocumentID:      id,
			BatchID:         batch.ID,
			Cause:           cause,
			CompensationErr: err,
		}
	}
	m.logger.Warn("document stock effect compensated",
		slog.String("action", action),
		slog.String("document_id", id.String()),
		slog.Any("cause", cause))
	return cause
}

func (m *Manager) lock(ctx context.Context, id uuid.UUID) (shared.ReleaseFunc, error) {
	if m.locker == nil {
		return nil, nil
	}
	release, err := m.locker.Acquire(ctx, shared.DocumentLockKey(id.String()))
	if err != nil {
		if errors.Is(err, shared.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentLocked, id)
		}
		return nil, err
	}
	return release, nil
}

func (m *Manager) unlock(ctx context.Context, id uuid.UUID, release shared.ReleaseFunc) {
	if release == nil {
		return
	}
	if err := release(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("release document lock", slog.String("document_id", id.String()), slog.Any("error", err))
	}
}

func (m *Manager) observe(action string, err error) {
	if m.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrPartialReversal):
		outcome = "reconciliation_required"
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, inventory.ErrItemNotFound), errors.Is(err, ErrDeleteRefused),
		errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, pricing.ErrInvalidLineItem):
		outcome = "rejected"
	case errors.Is(err, ErrDocumentLocked):
		outcome = "locked"
	default:
		outcome = "error"
	}
	m.metrics.DocumentAction(action, outcome)
}

func (m *Manager) record(ctx context.Context, action string, doc Document, meta map[string]any) {
	if m.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = doc.Number
	meta["kind"] = string(doc.Kind)
	meta["grand_total"] = doc.Totals.GrandTotal.String()
	if err := m.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "document",
		EntityID: doc.ID.String(),
		Meta:     meta,
	}); err != nil {
		m.logger.Warn("audit document", slog.String("action", action), slog.Any("error", err))
	}
}
