package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gauravitis/crm-sub001/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	// GetItemForUpdate returns ErrItemNotFound when the row is missing.
	GetItemForUpdate(ctx context.Context, ref string) (Item, error)
	UpdateOnHand(ctx context.Context, ref string, qty int64) error
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	InsertItem(ctx context.Context, item Item) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `item_ref, name, on_hand_qty, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.Ref, &item.Name, &item.OnHand, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

// GetItem loads an item without locking it.
func (r *Repository) GetItem(ctx context.Context, ref string) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE item_ref = $1`, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, &ItemNotFoundError{ItemRef: ref}
		}
		return Item{}, err
	}
	return item, nil
}

// ListItems returns items ordered by reference.
func (r *Repository) ListItems(ctx context.Context, limit, offset int) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY item_ref LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetStockCard lists movements of one item in posting order.
func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, item_ref, delta, balance_qty, ref_module, ref_id, note, posted_at
FROM inventory_movements
WHERE item_ref = $1 AND posted_at BETWEEN COALESCE($2, '-infinity'::timestamptz) AND COALESCE($3, 'infinity'::timestamptz)
ORDER BY posted_at ASC, id ASC
LIMIT $4`, filter.ItemRef, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.BatchID, &mv.ItemRef, &mv.Delta, &mv.BalanceQty, &mv.RefModule, &mv.RefID, &mv.Note, &mv.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, ref string) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE item_ref = $1 FOR UPDATE`, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) UpdateOnHand(ctx context.Context, ref string, qty int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_items SET on_hand_qty = $2, updated_at = NOW() WHERE item_ref = $1`, ref, qty)
	return onHandError(ref, qty, err)
}

// onHandError turns a tripped on_hand_qty CHECK into the domain error.
func onHandError(ref string, qty int64, err error) error {
	if db.IsCheckViolation(err) {
		return fmt.Errorf("%w: on-hand quantity of %s cannot become %d", ErrInsufficientStock, ref, qty)
	}
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (batch_id, item_ref, delta, balance_qty, ref_module, ref_id, note, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		mv.BatchID, mv.ItemRef, mv.Delta, mv.BalanceQty, mv.RefModule, mv.RefID, mv.Note, mv.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_items (item_ref, name, on_hand_qty, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		item.Ref, item.Name, item.OnHand, item.CreatedAt, item.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrItemExists
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
