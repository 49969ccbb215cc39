package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gauravitis/crm-sub001/internal/platform/db"
)

// Repository persists counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("sequence repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) LockCounter(ctx context.Context, docType DocType) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `SELECT seq FROM sequence_counters WHERE doc_type = $1 FOR UPDATE`, string(docType)).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCounterNotFound
		}
		return 0, err
	}
	return seq, nil
}

func (r *txRepository) LatestNumber(ctx context.Context, docType DocType) (string, bool, error) {
	var number string
	var err error
	if docType == DocTypeQuotation {
		err = r.tx.QueryRow(ctx, `SELECT number FROM quotations ORDER BY created_at DESC, length(number) DESC, number DESC LIMIT 1`).Scan(&number)
	} else {
		err = r.tx.QueryRow(ctx, `SELECT number FROM documents WHERE doc_type = $1 ORDER BY created_at DESC, length(number) DESC, number DESC LIMIT 1`, string(docType)).Scan(&number)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return number, true, nil
}

func (r *txRepository) SeedCounter(ctx context.Context, docType DocType, seq int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sequence_counters (doc_type, seq, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (doc_type) DO NOTHING`, string(docType), seq)
	return err
}

func (r *txRepository) SetCounter(ctx context.Context, docType DocType, seq int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE sequence_counters SET seq = $2, updated_at = NOW() WHERE doc_type = $1`, string(docType), seq)
	return err
}
