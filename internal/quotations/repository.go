package quotations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gauravitis/crm-sub001/internal/fulfillment"
	"github.com/gauravitis/crm-sub001/internal/platform/db"
)

// Repository persists quotations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	Insert(ctx context.Context, q Quotation) error
	// GetForUpdate locks the quotation row until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (Quotation, error)
	UpdateDelivery(ctx context.Context, id uuid.UUID, lineNo int, delivered int64, entry fulfillment.HistoryEntry) error
	InsertPayment(ctx context.Context, id uuid.UUID, p Payment) error
	UpdatePayment(ctx context.Context, id uuid.UUID, ledger fulfillment.PaymentLedger, at time.Time) error
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("quotations repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const quotationColumns = `id, number, customer_name, notes, subtotal, tax_total, delivery_charges, round_off, grand_total,
payment_status, amount_paid, last_payment_date, overpayment_flagged, created_at, updated_at`

func scanQuotation(row pgx.Row) (Quotation, error) {
	var q Quotation
	err := row.Scan(&q.ID, &q.Number, &q.CustomerName, &q.Notes,
		&q.Totals.Subtotal, &q.Totals.TaxTotal, &q.Totals.DeliveryCharges, &q.Totals.RoundOff, &q.Totals.GrandTotal,
		&q.Payment.Status, &q.Payment.AmountPaid, &q.Payment.LastPaymentDate, &q.Payment.Flagged,
		&q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func load(ctx context.Context, qr querier, id uuid.UUID, forUpdate bool) (Quotation, error) {
	query := `SELECT ` + quotationColumns + ` FROM quotations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	q, err := scanQuotation(qr.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quotation{}, ErrNotFound
		}
		return Quotation{}, err
	}
	if q.Lines, err = loadLines(ctx, qr, id); err != nil {
		return Quotation{}, err
	}
	return q, nil
}

func loadLines(ctx context.Context, qr querier, id uuid.UUID) ([]Line, error) {
	rows, err := qr.Query(ctx, `SELECT line_no, item_ref, quantity, unit_price, tax_rate_percent, discount_percent,
amount, discount_value, tax_value, line_total, delivered_qty
FROM quotation_lines WHERE quotation_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.LineNo, &l.ItemRef, &l.Quantity, &l.UnitPrice, &l.TaxRatePercent, &l.DiscountPercent,
			&l.Amount, &l.DiscountValue, &l.TaxValue, &l.LineTotal, &l.Delivery.DeliveredQty); err != nil {
			rows.Close()
			return nil, err
		}
		l.Delivery.Status = fulfillment.DeriveLineStatus(l.Delivery.DeliveredQty, l.Quantity)
		l.Delivery.History = []fulfillment.HistoryEntry{}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = qr.Query(ctx, `SELECT line_no, status, quantity, notes, recorded_at
FROM quotation_delivery_history WHERE quotation_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	index := make(map[int]int, len(lines))
	for i, l := range lines {
		index[l.LineNo] = i
	}
	for rows.Next() {
		var lineNo int
		var e fulfillment.HistoryEntry
		if err := rows.Scan(&lineNo, &e.Status, &e.Quantity, &e.Notes, &e.Date); err != nil {
			return nil, err
		}
		if i, ok := index[lineNo]; ok {
			lines[i].Delivery.History = append(lines[i].Delivery.History, e)
		}
	}
	return lines, rows.Err()
}

// Get loads a quotation with lines and delivery history.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Quotation, error) {
	return load(ctx, r.pool, id, false)
}

// List returns quotation headers with their lines, newest first. History is
// left out.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Quotation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+quotationColumns+` FROM quotations ORDER BY created_at DESC, number DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Quotation{}
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		lines, err := r.summaryLines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (r *Repository) summaryLines(ctx context.Context, id uuid.UUID) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT line_no, item_ref, quantity, delivered_qty FROM quotation_lines WHERE quotation_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.LineNo, &l.ItemRef, &l.Quantity, &l.Delivery.DeliveredQty); err != nil {
			return nil, err
		}
		l.Delivery.Status = fulfillment.DeriveLineStatus(l.Delivery.DeliveredQty, l.Quantity)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepository) Insert(ctx context.Context, q Quotation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO quotations (`+quotationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		q.ID, q.Number, q.CustomerName, q.Notes,
		q.Totals.Subtotal, q.Totals.TaxTotal, q.Totals.DeliveryCharges, q.Totals.RoundOff, q.Totals.GrandTotal,
		q.Payment.Status, q.Payment.AmountPaid, q.Payment.LastPaymentDate, q.Payment.Flagged,
		q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range q.Lines {
		batch.Queue(`INSERT INTO quotation_lines (quotation_id, line_no, item_ref, quantity, unit_price, tax_rate_percent,
discount_percent, amount, discount_value, tax_value, line_total, delivered_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			q.ID, l.LineNo, l.ItemRef, l.Quantity, l.UnitPrice, l.TaxRatePercent,
			l.DiscountPercent, l.Amount, l.DiscountValue, l.TaxValue, l.LineTotal, l.Delivery.DeliveredQty)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Quotation, error) {
	return load(ctx, r.tx, id, true)
}

func (r *txRepository) UpdateDelivery(ctx context.Context, id uuid.UUID, lineNo int, delivered int64, entry fulfillment.HistoryEntry) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quotation_lines SET delivered_qty = $3 WHERE quotation_id = $1 AND line_no = $2`, id, lineNo, delivered)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	if _, err := r.tx.Exec(ctx, `INSERT INTO quotation_delivery_history (quotation_id, line_no, status, quantity, notes, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)`, id, lineNo, entry.Status, entry.Quantity, entry.Notes, entry.Date); err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE quotations SET updated_at = $2 WHERE id = $1`, id, entry.Date)
	return err
}

func (r *txRepository) InsertPayment(ctx context.Context, id uuid.UUID, p Payment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO quotation_payments (quotation_id, amount, paid_at, note) VALUES ($1, $2, $3, $4)`,
		id, p.Amount, p.PaidAt, p.Note)
	return err
}

func (r *txRepository) UpdatePayment(ctx context.Context, id uuid.UUID, ledger fulfillment.PaymentLedger, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE quotations SET payment_status = $2, amount_paid = $3, last_payment_date = $4,
overpayment_flagged = $5, updated_at = $6 WHERE id = $1`,
		id, ledger.Status, ledger.AmountPaid, ledger.LastPaymentDate, ledger.Flagged, at)
	return err
}
