package documents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gauravitis/crm-sub001/internal/platform/db"
)

// Repository persists documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const documentColumns = `id, kind, number, party_name, notes, subtotal, tax_total, delivery_charges, round_off, grand_total, sent_at, created_at, updated_at`

const lineColumns = `line_no, item_ref, quantity, unit_price, tax_rate_percent, discount_percent, amount, discount_value, tax_value, line_total`

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Kind, &doc.Number, &doc.PartyName, &doc.Notes,
		&doc.Totals.Subtotal, &doc.Totals.TaxTotal, &doc.Totals.DeliveryCharges, &doc.Totals.RoundOff, &doc.Totals.GrandTotal,
		&doc.SentAt, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}

// Insert stores a new document and its lines.
func (r *Repository) Insert(ctx context.Context, doc Document) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO documents (`+documentColumns+`, doc_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			doc.ID, doc.Kind, doc.Number, doc.PartyName, doc.Notes,
			doc.Totals.Subtotal, doc.Totals.TaxTotal, doc.Totals.DeliveryCharges, doc.Totals.RoundOff, doc.Totals.GrandTotal,
			doc.SentAt, doc.CreatedAt, doc.UpdatedAt, doc.Kind.DocType())
		if err != nil {
			return err
		}
		return insertLines(ctx, tx, doc.ID, doc.Lines)
	})
}

func insertLines(ctx context.Context, tx pgx.Tx, id uuid.UUID, lines []Line) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO document_lines (document_id, `+lineColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			id, l.LineNo, l.ItemRef, l.Quantity, l.UnitPrice, l.TaxRatePercent, l.DiscountPercent,
			l.Amount, l.DiscountValue, l.TaxValue, l.LineTotal)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// Get loads a document with its lines.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	lines, err := r.loadLines(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc.Lines = lines
	return doc, nil
}

func (r *Repository) loadLines(ctx context.Context, id uuid.UUID) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE document_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.LineNo, &l.ItemRef, &l.Quantity, &l.UnitPrice, &l.TaxRatePercent, &l.DiscountPercent,
			&l.Amount, &l.DiscountValue, &l.TaxValue, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// List returns document headers, newest first. Lines are not loaded.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents
WHERE ($1 = '' OR kind = $1)
ORDER BY created_at DESC, number DESC
LIMIT $2 OFFSET $3`, string(filter.Kind), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Update rewrites the header and replaces all lines. The number and its
// numbering stream are kept.
func (r *Repository) Update(ctx context.Context, doc Document) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE documents SET kind = $2, party_name = $3, notes = $4, subtotal = $5, tax_total = $6,
delivery_charges = $7, round_off = $8, grand_total = $9, updated_at = $10
WHERE id = $1`,
			doc.ID, doc.Kind, doc.PartyName, doc.Notes, doc.Totals.Subtotal, doc.Totals.TaxTotal,
			doc.Totals.DeliveryCharges, doc.Totals.RoundOff, doc.Totals.GrandTotal, doc.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, doc.ID); err != nil {
			return err
		}
		return insertLines(ctx, tx, doc.ID, doc.Lines)
	})
}

// Delete removes the document; lines cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSent stamps sent_at.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE documents SET sent_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
