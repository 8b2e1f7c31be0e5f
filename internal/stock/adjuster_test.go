package stock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

type memoryRepo struct {
	levels    map[int64]decimal.Decimal
	movements []Movement
	failOn    int64
}

type memoryTx struct {
	repo      *memoryRepo
	levels    map[int64]decimal.Decimal
	movements []Movement
	locked    []int64
}

func newMemoryRepo(levels map[int64]string) *memoryRepo {
	repo := &memoryRepo{levels: make(map[int64]decimal.Decimal)}
	for id, qty := range levels {
		repo.levels[id] = decimal.RequireFromString(qty)
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	tx := &memoryTx{repo: r, levels: make(map[int64]decimal.Decimal)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, qty := range tx.levels {
		r.levels[id] = qty
	}
	r.movements = append(r.movements, tx.movements...)
	return nil
}

func (r *memoryRepo) ListMovements(_ context.Context, articleID int64, limit int) ([]Movement, error) {
	var out []Movement
	for i := len(r.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if r.movements[i].ArticleID == articleID {
			out = append(out, r.movements[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) LockArticleStock(_ context.Context, articleID int64) (Level, error) {
	tx.locked = append(tx.locked, articleID)
	if qty, ok := tx.levels[articleID]; ok {
		return Level{ArticleID: articleID, StockQuantity: qty}, nil
	}
	qty, ok := tx.repo.levels[articleID]
	if !ok {
		return Level{}, ErrArticleNotFound
	}
	return Level{ArticleID: articleID, StockQuantity: qty}, nil
}

func (tx *memoryTx) SetStockQuantity(_ context.Context, articleID int64, qty decimal.Decimal, _ time.Time) error {
	if articleID == tx.repo.failOn {
		return errors.New("disk full")
	}
	tx.levels[articleID] = qty
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) error {
	tx.movements = append(tx.movements, m)
	return nil
}

type countingRecorder map[string]int

func (c countingRecorder) StockAdjusted(direction string, n int) { c[direction] += n }

type memoryAudit struct{ logs []shared.AuditLog }

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(repo *memoryRepo, recorder Recorder, audit AuditPort) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, NewAdjuster(func() time.Time { return time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC) }), audit, recorder, logger)
}

func TestApplySubtractsDeltaAndAllowsNegative(t *testing.T) {
	repo := newMemoryRepo(map[int64]string{1: "10", 2: "1.5"})
	svc := newTestService(repo, nil, nil)

	movements, err := svc.ApplyAdjustments(context.Background(), Reference{Reason: ReasonSale, InvoiceID: 9, ActorID: "4"}, []Adjustment{
		{ArticleID: 1, Delta: qty("3")},
		{ArticleID: 2, Delta: qty("4.25")},
	})
	require.NoError(t, err)
	require.Len(t, movements, 2)

	assert.True(t, repo.levels[1].Equal(qty("7")))
	assert.True(t, repo.levels[2].Equal(qty("-2.75")), "oversell is tracked")
	assert.True(t, movements[1].QtyChange.Equal(qty("-4.25")))
	assert.True(t, movements[1].BalanceAfter.Equal(qty("-2.75")))
	assert.Equal(t, int64(9), movements[0].InvoiceID)
}

func TestApplyNegativeDeltaAddsStock(t *testing.T) {
	repo := newMemoryRepo(map[int64]string{1: "0"})
	_, err := newTestService(repo, nil, nil).ApplyAdjustments(context.Background(), Reference{Reason: ReasonReturn}, []Adjustment{
		{ArticleID: 1, Delta: qty("-2")},
	})
	require.NoError(t, err)
	assert.True(t, repo.levels[1].Equal(qty("2")))
}

func TestApplyRepeatedArticleIsAdditive(t *testing.T) {
	repo := newMemoryRepo(map[int64]string{1: "10"})
	movements, err := newTestService(repo, nil, nil).ApplyAdjustments(context.Background(), Reference{Reason: ReasonInvoiceEdit}, []Adjustment{
		{ArticleID: 1, Delta: qty("2")},
		{ArticleID: 1, Delta: qty("-5")},
		{ArticleID: 1, Delta: qty("1")},
	})
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.True(t, repo.levels[1].Equal(qty("12")))
	assert.True(t, movements[0].BalanceAfter.Equal(qty("8")))
	assert.True(t, movements[1].BalanceAfter.Equal(qty("13")))
}

func TestApplyMissingArticleAbortsBatch(t *testing.T) {
	repo := newMemoryRepo(map[int64]string{1: "10", 3: "10"})
	_, err := newTestService(repo, nil, nil).ApplyAdjustments(context.Background(), Reference{Reason: ReasonSale}, []Adjustment{
		{ArticleID: 1, Delta: qty("1")},
		{ArticleID: 2, Delta: qty("1")},
		{ArticleID: 3, Delta: qty("1")},
	})
	require.ErrorIs(t, err, ErrArticleNotFound)
	assert.ErrorIs(t, err, httpx.ErrValidation)
	assert.True(t, repo.levels[1].Equal(qty("10")))
	assert.True(t, repo.levels[3].Equal(qty("10")))
	assert.Empty(t, repo.movements)
}

func TestApplyPersistenceFailureRollsBack(t *testing.T) {
	repo := newMemoryRepo(map[int64]string{1: "10", 2: "10"})
	repo.failOn = 2
	_, err := newTestService(repo, nil, nil).ApplyAdjustments(context.Background(), Reference{Reason: ReasonSale}, []Adjustment{
		{ArticleID: 1, Delta: qty("1")},
		{ArticleID: 2, Delta: qty("1")},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, httpx.ErrValidation)
	assert.True(t, repo.levels[1].Equal(qty("10")))
}

func TestApplyLocksInArticleOrderAndSkipsZero(t *testing.T) {
	repo := newMemoryRepo(map[int64]string{1: "1", 2: "2", 3: "3"})
	var locked []int64
	err := repo.WithTx(context.Background(), func(ctx context.Context, store Store) error {
		_, err := NewAdjuster(nil).Apply(ctx, store, Reference{Reason: ReasonSale}, []Adjustment{
			{ArticleID: 3, Delta: qty("1")},
			{ArticleID: 2, Delta: decimal.Zero},
			{ArticleID: 1, Delta: qty("1")},
		})
		locked = store.(*memoryTx).locked
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, locked)
}

func TestApplyValidatesInput(t *testing.T) {
	repo := newMemoryRepo(nil)
	adjuster := NewAdjuster(nil)

	err := repo.WithTx(context.Background(), func(ctx context.Context, store Store) error {
		_, err := adjuster.Apply(ctx, store, Reference{Reason: ReasonSale}, []Adjustment{{ArticleID: 0, Delta: qty("1")}})
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAdjustment)

	err = repo.WithTx(context.Background(), func(ctx context.Context, store Store) error {
		_, err := adjuster.Apply(ctx, store, Reference{}, nil)
		return err
	})
	assert.Error(t, err)
}

func TestServiceReportsAndAudits(t *testing.T) {
	repo := newMemoryRepo(map[int64]string{1: "10", 2: "10"})
	recorder := countingRecorder{}
	audit := &memoryAudit{}
	svc := newTestService(repo, recorder, audit)

	_, err := svc.ApplyAdjustments(context.Background(), Reference{Reason: ReasonManual, ActorID: "7", Note: "count"}, []Adjustment{
		{ArticleID: 1, Delta: qty("1")},
		{ArticleID: 2, Delta: qty("-1")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recorder["in"])
	assert.Equal(t, 1, recorder["out"])
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "stock:MANUAL", audit.logs[0].Action)

	movements, err := svc.Movements(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.True(t, movements[0].QtyChange.Equal(qty("1")))
}
