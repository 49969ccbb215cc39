package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gauravitis/crm-sub001/internal/platform/db"
	"github.com/gauravitis/crm-sub001/internal/shared"
)

// RepositoryPort abstracts repository usage for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, ref string) (Item, error)
	ListItems(ctx context.Context, limit, offset int) ([]Item, error)
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records ledger batch outcomes.
type MetricsPort interface {
	LedgerBatch(outcome string)
}

// Ledger is the only writer of on-hand quantities. Every call is applied as
// one atomic batch: either all lines move or none do.
type Ledger struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	reads   singleflight.Group
	now     func() time.Time
}

// NewLedger builds Ledger. audit and metrics may be nil.
func NewLedger(repo RepositoryPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:    repo,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ApplyQuantityDelta credits or debits every line in one batch.
func (l *Ledger) ApplyQuantityDelta(ctx context.Context, lines []Line, dir Direction, ref Reference) (Batch, error) {
	if !dir.IsValid() {
		return Batch{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ItemRef) == "" {
			return Batch{}, fmt.Errorf("%w: item reference required", ErrInvalidQuantity)
		}
		if line.Quantity <= 0 {
			return Batch{}, fmt.Errorf("%w: %d for item %s", ErrInvalidQuantity, line.Quantity, line.ItemRef)
		}
	}
	return l.ApplyAdjustments(ctx, Effect(lines, dir), ref)
}

// ApplyAdjustments applies signed deltas in one batch. Deltas for the same
// item are summed first and items with a zero total are left untouched.
func (l *Ledger) ApplyAdjustments(ctx context.Context, adjs []Adjustment, ref Reference) (Batch, error) {
	for _, a := range adjs {
		if strings.TrimSpace(a.ItemRef) == "" {
			return Batch{}, fmt.Errorf("%w: item reference required", ErrInvalidQuantity)
		}
	}
	net, err := consolidate(adjs)
	if err != nil {
		return Batch{}, err
	}
	if len(net) == 0 {
		return Batch{ID: uuid.New(), PostedAt: l.now()}, nil
	}
	var batch Batch
	err = db.RetryTransient(func() error {
		var err error
		batch, err = l.post(ctx, net, ref)
		return err
	})
	l.observe(err)
	if err != nil {
		l.logger.Warn("ledger batch rejected",
			slog.String("ref_module", ref.Module),
			slog.String("ref_id", ref.ID),
			slog.Any("error", err))
		return Batch{}, err
	}
	l.record(ctx, batch, ref)
	return batch, nil
}

func (l *Ledger) post(ctx context.Context, adjs []Adjustment, ref Reference) (Batch, error) {
	batch := Batch{ID: uuid.New(), PostedAt: l.now()}
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movements := make([]Movement, 0, len(adjs))
		for _, adj := range adjs {
			item, err := tx.GetItemForUpdate(ctx, adj.ItemRef)
			if err != nil {
				if errors.Is(err, ErrItemNotFound) {
					return &ItemNotFoundError{ItemRef: adj.ItemRef}
				}
				return err
			}
			newQty, ok := addQuantity(item.OnHand, adj.Delta)
			if !ok {
				return fmt.Errorf("%w: on-hand quantity of %s would overflow", ErrInvalidQuantity, adj.ItemRef)
			}
			if newQty < 0 {
				return &InsufficientStockError{ItemRef: adj.ItemRef, OnHand: item.OnHand, Requested: -adj.Delta}
			}
			if err := tx.UpdateOnHand(ctx, adj.ItemRef, newQty); err != nil {
				return err
			}
			mv := Movement{
				BatchID:    batch.ID,
				ItemRef:    adj.ItemRef,
				Delta:      adj.Delta,
				BalanceQty: newQty,
				RefModule:  ref.Module,
				RefID:      ref.ID,
				Note:       ref.Note,
				PostedAt:   batch.PostedAt,
			}
			id, err := tx.InsertMovement(ctx, mv)
			if err != nil {
				return err
			}
			mv.ID = id
			movements = append(movements, mv)
		}
		batch.Movements = movements
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	return batch, nil
}

func (l *Ledger) observe(err error) {
	if l.metrics == nil {
		return
	}
	outcome := "committed"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientStock):
		outcome = "insufficient_stock"
	case errors.Is(err, ErrItemNotFound):
		outcome = "item_not_found"
	case errors.Is(err, ErrInvalidQuantity):
		outcome = "invalid_quantity"
	default:
		outcome = "error"
	}
	l.metrics.LedgerBatch(outcome)
}

func (l *Ledger) record(ctx context.Context, batch Batch, ref Reference) {
	if l.audit == nil {
		return
	}
	deltas := make(map[string]int64, len(batch.Movements))
	for _, m := range batch.Movements {
		deltas[m.ItemRef] = m.Delta
	}
	if err := l.audit.Record(ctx, shared.AuditLog{
		Action:   "inventory:batch",
		Entity:   "inventory_batch",
		EntityID: batch.ID.String(),
		Meta: map[string]any{
			"ref_module": ref.Module,
			"ref_id":     ref.ID,
			"deltas":     deltas,
		},
		At: batch.PostedAt,
	}); err != nil {
		l.logger.Warn("audit inventory batch", slog.Any("error", err))
	}
}

// CreateItem registers a new item. A positive opening quantity is written as
// the item's first movement.
func (l *Ledger) CreateItem(ctx context.Context, input NewItemInput) (Item, error) {
	ref := strings.TrimSpace(input.Ref)
	if ref == "" {
		return Item{}, errors.New("inventory: item reference required")
	}
	if input.OpeningQty < 0 {
		return Item{}, fmt.Errorf("%w: opening quantity must be >= 0", ErrInvalidQuantity)
	}
	now := l.now()
	item := Item{Ref: ref, Name: strings.TrimSpace(input.Name), OnHand: input.OpeningQty, CreatedAt: now, UpdatedAt: now}
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		if item.OnHand == 0 {
			return nil
		}
		_, err := tx.InsertMovement(ctx, Movement{
			BatchID:    uuid.New(),
			ItemRef:    item.Ref,
			Delta:      item.OnHand,
			BalanceQty: item.OnHand,
			RefModule:  "OPENING",
			Note:       "opening balance",
			PostedAt:   now,
		})
		return err
	})
	if err != nil {
		return Item{}, err
	}
	l.reads.Forget(item.Ref)
	return item, nil
}

// GetItem loads an item. Concurrent lookups of the same reference share one
// store round trip.
func (l *Ledger) GetItem(ctx context.Context, ref string) (Item, error) {
	ch := l.reads.DoChan(ref, func() (interface{}, error) {
		return l.repo.GetItem(context.WithoutCancel(ctx), ref)
	})
	select {
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Item{}, res.Err
		}
		return res.Val.(Item), nil
	}
}

// ListItems pages through registered items.
func (l *Ledger) ListItems(ctx context.Context, limit, offset int) ([]Item, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return l.repo.ListItems(ctx, limit, offset)
}

// GetStockCard lists movements of one item.
func (l *Ledger) GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	if strings.TrimSpace(filter.ItemRef) == "" {
		return nil, errors.New("inventory: item reference required")
	}
	return l.repo.GetStockCard(ctx, filter)
}
