// Package sequence issues human readable, per document type sequential numbers.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gauravitis/crm-sub001/internal/platform/db"
)

// DocType identifies an independent numbering stream.
type DocType string

const (
	DocTypeSalesInvoice    DocType = "SALES_INVOICE"
	DocTypePurchaseInvoice DocType = "PURCHASE_INVOICE"
	DocTypeQuotation       DocType = "QUOTATION"
)

// IsValid reports whether t is a known document type.
func (t DocType) IsValid() bool {
	switch t {
	case DocTypeSalesInvoice, DocTypePurchaseInvoice, DocTypeQuotation:
		return true
	default:
		return false
	}
}

const (
	yymmDigits = 4
	seqDigits  = 4
)

var (
	// ErrSequenceGenerationFailed is returned whenever a number cannot be issued.
	// No fallback number is ever produced.
	ErrSequenceGenerationFailed = errors.New("sequence: generation failed")
	// ErrCounterNotFound indicates that no counter row exists for the type yet.
	ErrCounterNotFound = errors.New("sequence: counter not found")
	// ErrMalformedNumber indicates an existing number without a numeric suffix.
	ErrMalformedNumber = errors.New("sequence: malformed document number")
)

// RepositoryPort abstracts counter persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes counter operations inside one transaction.
type TxRepository interface {
	// LockCounter returns the last issued sequence and holds the row lock
	// until the transaction ends.
	LockCounter(ctx context.Context, docType DocType) (int64, error)
	// LatestNumber returns the most recently created number of the type.
	LatestNumber(ctx context.Context, docType DocType) (string, bool, error)
	// SeedCounter creates the counter row unless another writer already did.
	SeedCounter(ctx context.Context, docType DocType, seq int64) error
	SetCounter(ctx context.Context, docType DocType, seq int64) error
}

// Generator issues document numbers shaped {prefix}{yy}{mm}{seq:04}.
type Generator struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator constructs a Generator.
func NewGenerator(repo RepositoryPort, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Next reserves the next number for docType. The counter is shared across
// months; only the yymm segment follows the calendar.
func (g *Generator) Next(ctx context.Context, docType DocType, prefix string) (string, error) {
	if g == nil || g.repo == nil {
		return "", fmt.Errorf("%w: generator not configured", ErrSequenceGenerationFailed)
	}
	if !docType.IsValid() {
		return "", fmt.Errorf("%w: unknown doc type %q", ErrSequenceGenerationFailed, docType)
	}
	var seq int64
	err := db.RetryTransient(func() error {
		var err error
		seq, err = g.reserve(ctx, docType)
		return err
	})
	if err != nil {
		g.logger.Error("sequence reservation failed",
			slog.String("doc_type", string(docType)),
			slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrSequenceGenerationFailed, err)
	}
	return Format(prefix, g.now(), seq), nil
}

func (g *Generator) reserve(ctx context.Context, docType DocType) (int64, error) {
	var next int64
	err := g.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		last, err := tx.LockCounter(ctx, docType)
		if errors.Is(err, ErrCounterNotFound) {
			seed, err := g.seedFromLatest(ctx, tx, docType)
			if err != nil {
				return err
			}
			if err := tx.SeedCounter(ctx, docType, seed); err != nil {
				return err
			}
			last, err = tx.LockCounter(ctx, docType)
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		next = last + 1
		return tx.SetCounter(ctx, docType, next)
	})
	return next, err
}

func (g *Generator) seedFromLatest(ctx context.Context, tx TxRepository, docType DocType) (int64, error) {
	latest, ok, err := tx.LatestNumber(ctx, docType)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return ParseSequence(latest)
}

// Format renders a number from its parts.
func Format(prefix string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s%02d%02d%0*d", prefix, at.Year()%100, int(at.Month()), seqDigits, seq)
}

// ParseSequence extracts the sequence of number: the digits that follow the
// yymm segment at the end of the number. Sequences past 9999 keep growing, so
// the segment is read in full rather than as the last four digits.
func ParseSequence(number string) (int64, error) {
	start := len(number)
	for start > 0 && number[start-1] >= '0' && number[start-1] <= '9' {
		start--
	}
	digits := number[start:]
	if len(digits) < yymmDigits+seqDigits {
		return 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	seq, err := strconv.ParseInt(digits[yymmDigits:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	return seq, nil
}
