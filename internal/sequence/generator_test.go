package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu       sync.Mutex
	counters map[DocType]int64
	latest   map[DocType]string
	failures []error
	setErr   error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{counters: make(map[DocType]int64), latest: make(map[DocType]string)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		return err
	}
	snapshot := make(map[DocType]int64, len(r.counters))
	for k, v := range r.counters {
		snapshot[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.counters = snapshot
		return err
	}
	return nil
}

func (tx *memoryTx) LockCounter(ctx context.Context, docType DocType) (int64, error) {
	seq, ok := tx.repo.counters[docType]
	if !ok {
		return 0, ErrCounterNotFound
	}
	return seq, nil
}

func (tx *memoryTx) LatestNumber(ctx context.Context, docType DocType) (string, bool, error) {
	number, ok := tx.repo.latest[docType]
	return number, ok, nil
}

func (tx *memoryTx) SeedCounter(ctx context.Context, docType DocType, seq int64) error {
	if _, ok := tx.repo.counters[docType]; !ok {
		tx.repo.counters[docType] = seq
	}
	return nil
}

func (tx *memoryTx) SetCounter(ctx context.Context, docType DocType, seq int64) error {
	if tx.repo.setErr != nil {
		return tx.repo.setErr
	}
	tx.repo.counters[docType] = seq
	return nil
}

func fixedClock(year int, month time.Month) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, 15, 10, 0, 0, 0, time.UTC)
	}
}

func TestNextStartsAtOne(t *testing.T) {
	gen := NewGenerator(newMemoryRepo(), nil)
	gen.now = fixedClock(2024, time.November)

	number, err := gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV24110001", number)

	number, err = gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV24110002", number)
}

func TestNextKeepsStreamsIndependent(t *testing.T) {
	gen := NewGenerator(newMemoryRepo(), nil)
	gen.now = fixedClock(2024, time.November)
	ctx := context.Background()

	_, err := gen.Next(ctx, DocTypeSalesInvoice, "INV")
	require.NoError(t, err)
	number, err := gen.Next(ctx, DocTypePurchaseInvoice, "PUR")
	require.NoError(t, err)
	require.Equal(t, "PUR24110001", number)
	number, err = gen.Next(ctx, DocTypeQuotation, "QT")
	require.NoError(t, err)
	require.Equal(t, "QT24110001", number)
}

func TestNextSeedsFromLatestDocument(t *testing.T) {
	repo := newMemoryRepo()
	repo.latest[DocTypeSalesInvoice] = "INV24100042"
	gen := NewGenerator(repo, nil)
	gen.now = fixedClock(2024, time.November)

	number, err := gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV24110043", number)
}

func TestNextIsNotMonthScoped(t *testing.T) {
	gen := NewGenerator(newMemoryRepo(), nil)
	ctx := context.Background()

	gen.now = fixedClock(2024, time.November)
	_, err := gen.Next(ctx, DocTypeSalesInvoice, "INV")
	require.NoError(t, err)

	gen.now = fixedClock(2024, time.December)
	number, err := gen.Next(ctx, DocTypeSalesInvoice, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV24120002", number)
}

func TestNextFailsOnMalformedLatest(t *testing.T) {
	repo := newMemoryRepo()
	repo.latest[DocTypeSalesInvoice] = "INV-LEGACY"
	gen := NewGenerator(repo, nil)

	number, err := gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
	require.ErrorIs(t, err, ErrSequenceGenerationFailed)
	require.ErrorIs(t, err, ErrMalformedNumber)
	require.Empty(t, number)
	require.Empty(t, repo.counters)
}

func TestNextFailsOnStoreError(t *testing.T) {
	repo := newMemoryRepo()
	repo.setErr = errors.New("disk full")
	gen := NewGenerator(repo, nil)

	number, err := gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
	require.ErrorIs(t, err, ErrSequenceGenerationFailed)
	require.Empty(t, number)
}

func TestNextRetriesTransientFailureOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.failures = []error{&pgconn.PgError{Code: "40001"}}
	gen := NewGenerator(repo, nil)
	gen.now = fixedClock(2024, time.November)

	number, err := gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV24110001", number)

	repo.failures = []error{&pgconn.PgError{Code: "40001"}, &pgconn.PgError{Code: "40P01"}}
	_, err = gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
	require.ErrorIs(t, err, ErrSequenceGenerationFailed)
}

func TestNextRejectsUnknownDocType(t *testing.T) {
	gen := NewGenerator(newMemoryRepo(), nil)
	_, err := gen.Next(context.Background(), DocType("CREDIT_NOTE"), "CN")
	require.ErrorIs(t, err, ErrSequenceGenerationFailed)
}

func TestNextConcurrentCallsAreUnique(t *testing.T) {
	gen := NewGenerator(newMemoryRepo(), nil)
	gen.now = fixedClock(2024, time.November)

	const callers = 50
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
			if err == nil {
				results <- number
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{}, callers)
	for number := range results {
		_, dup := seen[number]
		require.False(t, dup, "duplicate number %s", number)
		seen[number] = struct{}{}
	}
	require.Len(t, seen, callers)
}

func TestParseSequence(t *testing.T) {
	seq, err := ParseSequence("INV24110042")
	require.NoError(t, err)
	require.EqualValues(t, 42, seq)

	_, err = ParseSequence("X1")
	require.ErrorIs(t, err, ErrMalformedNumber)

	_, err = ParseSequence("INV2411ABCD")
	require.ErrorIs(t, err, ErrMalformedNumber)

	_, err = ParseSequence("INV2411042")
	require.ErrorIs(t, err, ErrMalformedNumber)

	seq, err = ParseSequence("INV241110000")
	require.NoError(t, err)
	require.EqualValues(t, 10000, seq)

	seq, err = ParseSequence("QUO2501123456")
	require.NoError(t, err)
	require.EqualValues(t, 123456, seq)
}

func TestNextSeedsPastFourDigits(t *testing.T) {
	repo := newMemoryRepo()
	repo.latest[DocTypeSalesInvoice] = "INV241010000"
	gen := NewGenerator(repo, nil)
	gen.now = fixedClock(2024, time.November)

	number, err := gen.Next(context.Background(), DocTypeSalesInvoice, "INV")
	require.NoError(t, err)
	require.Equal(t, "INV241110001", number)
}

func TestGeneratorClockIsUTC(t *testing.T) {
	gen := NewGenerator(newMemoryRepo(), nil)
	require.Equal(t, time.UTC, gen.now().Location())
}

func TestFormat(t *testing.T) {
	at := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "PUR25030007", Format("PUR", at, 7))
}
