package invoices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/stock"
)

var fixedNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	repo     *memoryRepo
	audit    *recordingAudit
	idem     *memoryIdempotency
	recorder *countingRecorder
	svc      *Service
}

func newFixture(t *testing.T, mutate ...func(*ServiceConfig)) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemoryRepo(),
		audit:    &recordingAudit{},
		idem:     newMemoryIdempotency(),
		recorder: newCountingRecorder(),
	}
	cfg := ServiceConfig{
		OwnerOnly: true,
		Recorder:  f.recorder,
		Now:       func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.svc = NewService(f.repo, f.audit, f.idem, cfg, nil)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func line(articleID int64, qty, value string) Item {
	v := dec(value)
	vat := v.Mul(dec("0.2"))
	return Item{
		ArticleID:       articleID,
		Description:     fmt.Sprintf("Article %d", articleID),
		Quantity:        dec(qty),
		PriceWithoutVAT: v.Div(dec(qty)),
		VATPercent:      dec("20"),
		VATAmount:       vat,
		ValueWithoutVAT: v,
		ValueWithVAT:    v.Add(vat),
		DiscountAmount:  dec("1"),
	}
}

func returnLine(original Item, qty string) Item {
	id := original.ID
	return Item{
		ArticleID:             original.ArticleID,
		Quantity:              dec(qty),
		OriginalInvoiceItemID: &id,
		OriginalQuantity:      original.Quantity,
	}
}

func sale(bu, buyer int64) Invoice {
	return Invoice{BusinessUnitID: bu, BuyerID: buyer, CreatedBy: "alice"}
}

func (f *fixture) createPosted(t *testing.T, inv Invoice, items ...Item) *Invoice {
	t.Helper()
	created, err := f.svc.CreateSale(context.Background(), inv, items)
	require.NoError(t, err)
	posted, err := f.svc.PostSale(context.Background(), created.ID, inv.CreatedBy)
	require.NoError(t, err)
	require.True(t, posted)
	return created
}

func TestCreateSaleAllocatesNumberAndSumsTotals(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateSale(context.Background(), sale(1, 7), []Item{
		line(100, "5", "50"),
		line(200, "2", "30.50"),
	})
	require.NoError(t, err)

	assert.Equal(t, "25-DOM-001-0001", created.InvoiceNumber)
	assert.Equal(t, int64(1), created.SequentialNumber)
	assert.Equal(t, int64(3), created.SalesCategoryID)
	assert.Equal(t, "B007", created.BuyerCode)
	assert.Equal(t, "Buyer Seven", created.BuyerName)
	assert.Equal(t, StatusDraft, created.Status())
	assertDecimal(t, "80.50", created.TotalWithoutVAT)
	assertDecimal(t, "16.10", created.VATAmount)
	assertDecimal(t, "96.60", created.TotalWithVAT)
	assertDecimal(t, "2", created.DiscountAmount)
	require.Len(t, created.Items, 2)
	assert.Equal(t, 1, created.Items[0].LineOrder)
	assert.Equal(t, 2, created.Items[1].LineOrder)

	assertDecimal(t, "45", f.repo.stockOf(100))
	assertDecimal(t, "18", f.repo.stockOf(200))
	assert.Equal(t, int64(1), f.repo.counter(1, 3))
	assert.Equal(t, 1, f.recorder.numbers)
	assert.Equal(t, 2, f.recorder.stock["out"])
	assert.Equal(t, 1, f.recorder.operations["create:ok"])
	assert.Equal(t, []string{"sales:invoice:create"}, f.audit.actions())

	stored, err := f.svc.GetSale(context.Background(), created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.InvoiceNumber, stored.InvoiceNumber)
	assert.Len(t, stored.Items, 2)
}

func TestCreateSaleWithoutItemsHasZeroTotals(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateSale(context.Background(), sale(1, 7), nil)
	require.NoError(t, err)
	assert.True(t, created.TotalWithoutVAT.IsZero())
	assert.True(t, created.VATAmount.IsZero())
	assert.True(t, created.TotalWithVAT.IsZero())
	assert.True(t, created.DiscountAmount.IsZero())
	assert.Equal(t, 0, f.repo.movementCount())
}

func TestCreateSaleNumbersAreSequentialPerKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateSale(ctx, sale(1, 7), nil)
	require.NoError(t, err)
	second, err := f.svc.CreateSale(ctx, sale(1, 7), nil)
	require.NoError(t, err)
	other, err := f.svc.CreateSale(ctx, sale(2, 7), nil)
	require.NoError(t, err)
	export := sale(1, 7)
	export.SalesCategoryID = 4
	exp, err := f.svc.CreateSale(ctx, export, nil)
	require.NoError(t, err)

	assert.Equal(t, "25-DOM-001-0001", first.InvoiceNumber)
	assert.Equal(t, "25-DOM-001-0002", second.InvoiceNumber)
	assert.Equal(t, "25-DOM-002-0001", other.InvoiceNumber)
	assert.Equal(t, "25-EXP-001-0001", exp.InvoiceNumber)
}

func TestCreateSaleFallsBackToCategoryOne(t *testing.T) {
	f := newFixture(t)
	delete(f.repo.state.categories, "DOM")
	created, err := f.svc.CreateSale(context.Background(), sale(1, 7), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.SalesCategoryID)
	assert.Equal(t, "25-GEN-001-0001", created.InvoiceNumber)
}

func TestCreateSaleConfiguredDefaultCategory(t *testing.T) {
	f := newFixture(t, func(cfg *ServiceConfig) { cfg.DefaultCategoryCode = "EXP" })
	created, err := f.svc.CreateSale(context.Background(), sale(1, 7), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), created.SalesCategoryID)
}

func TestCreateSaleValidation(t *testing.T) {
	cases := []struct {
		name  string
		inv   Invoice
		items []Item
		cause error
	}{
		{"missing business unit", sale(0, 7), nil, ErrBusinessUnitRequired},
		{"missing buyer", sale(1, 0), nil, ErrBuyerNotFound},
		{"unknown buyer", sale(1, 42), nil, ErrBuyerNotFound},
		{"supplier is not a buyer", sale(1, 8), nil, ErrBuyerNotFound},
		{"negative quantity", sale(1, 7), []Item{line(100, "-1", "10")}, ErrInvalidItem},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateSale(context.Background(), tc.inv, tc.items)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.cause)
			assert.ErrorIs(t, err, httpx.ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.NotEmpty(t, verr.Message)

			assert.Equal(t, 0, f.repo.invoiceCount())
			assert.Equal(t, int64(0), f.repo.counter(1, 3))
			assert.Equal(t, 1, f.recorder.operations["create:rejected"])
		})
	}
}

func TestCreateSaleRollsBackWhenArticleMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSale(context.Background(), sale(1, 7), []Item{
		line(100, "5", "50"),
		line(999, "1", "10"),
	})
	require.ErrorIs(t, err, stock.ErrArticleNotFound)

	assert.Equal(t, 0, f.repo.invoiceCount())
	assert.Equal(t, int64(0), f.repo.counter(1, 3))
	assertDecimal(t, "50", f.repo.stockOf(100))
	assert.Equal(t, 0, f.repo.movementCount())
	assert.Empty(t, f.audit.actions())

	next, err := f.svc.CreateSale(context.Background(), sale(1, 7), []Item{line(100, "1", "10")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.SequentialNumber)
}

func TestCreateSaleRollsBackWhenItemInsertFails(t *testing.T) {
	f := newFixture(t)
	f.repo.failInsertItem = 2
	_, err := f.svc.CreateSale(context.Background(), sale(1, 7), []Item{
		line(100, "5", "50"),
		line(200, "1", "10"),
	})
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, 0, f.repo.invoiceCount())
	assert.Equal(t, int64(0), f.repo.counter(1, 3))
	assert.Equal(t, 1, f.recorder.operations["create:error"])
}

func TestCreateSaleIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{line(999, "1", "10")}, WithIdempotencyKey("req-1"))
	require.ErrorIs(t, err, stock.ErrArticleNotFound)

	created, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{line(100, "1", "10")}, WithIdempotencyKey("req-1"))
	require.NoError(t, err, "failed attempts release the key")
	assert.Equal(t, int64(1), created.SequentialNumber)

	_, err = f.svc.CreateSale(ctx, sale(1, 7), []Item{line(100, "1", "10")}, WithIdempotencyKey(" req-1 "))
	require.ErrorIs(t, err, ErrDuplicateRequest)
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
	assert.Equal(t, 1, f.repo.invoiceCount())
}

func TestCreateSaleChecksBusinessUnitAccess(t *testing.T) {
	f := newFixture(t, func(cfg *ServiceConfig) { cfg.Access = staticAccess{1: true} })
	_, err := f.svc.CreateSale(context.Background(), sale(2, 7), nil)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, f.repo.invoiceCount())

	_, err = f.svc.CreateSale(context.Background(), sale(1, 7), nil)
	require.NoError(t, err)
}

func TestConcurrentCreateSaleProducesDistinctNumbers(t *testing.T) {
	f := newFixture(t)
	const n = 30
	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := f.svc.CreateSale(context.Background(), sale(1, 7), []Item{line(100, "1", "10")})
			if err != nil {
				errs <- err
				return
			}
			seqs <- inv.SequentialNumber
		}()
	}
	wg.Wait()
	close(seqs)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	var got []int64
	for s := range seqs {
		got = append(got, s)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, n)
	for i, s := range got {
		assert.Equal(t, int64(i+1), s)
	}
	assertDecimal(t, "20", f.repo.stockOf(100))
}

func TestUpdateSaleNetsStockAndKeepsNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{
		line(100, "5", "50"),
		line(200, "2", "20"),
	})
	require.NoError(t, err)
	assertDecimal(t, "45", f.repo.stockOf(100))
	assertDecimal(t, "18", f.repo.stockOf(200))

	changed := created.Items[0]
	changed.Quantity = dec("8")
	changed.ValueWithoutVAT = dec("80")
	changed.ValueWithVAT = dec("96")
	changed.VATAmount = dec("16")
	input := *created
	input.InvoiceNumber = "HACKED-0001"
	input.SequentialNumber = 999
	input.BusinessUnitID = 2
	input.Notes = "revised"
	updated, found, err := f.svc.UpdateSale(ctx, input, []Item{changed, line(200, "1", "10")}, "alice")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, "25-DOM-001-0001", updated.InvoiceNumber)
	assert.Equal(t, int64(1), updated.SequentialNumber)
	assert.Equal(t, int64(1), updated.BusinessUnitID)
	assert.Equal(t, "revised", updated.Notes)
	assertDecimal(t, "90", updated.TotalWithoutVAT)
	assertDecimal(t, "18", updated.VATAmount)
	assertDecimal(t, "108", updated.TotalWithVAT)
	assertDecimal(t, "2", updated.DiscountAmount)

	assertDecimal(t, "42", f.repo.stockOf(100))
	assertDecimal(t, "19", f.repo.stockOf(200))
	assert.Equal(t, int64(1), f.repo.counter(1, 3))

	stored, err := f.svc.GetSale(ctx, created.ID, "alice")
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, changed.ID, stored.Items[0].ID)
	assert.NotEqual(t, created.Items[1].ID, stored.Items[1].ID)
	assert.Equal(t, "25-DOM-001-0001", stored.InvoiceNumber)
}

func TestUpdateSaleChangingArticleMovesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{line(100, "5", "50")})
	require.NoError(t, err)

	moved := created.Items[0]
	moved.ArticleID = 200
	_, found, err := f.svc.UpdateSale(ctx, *created, []Item{moved}, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assertDecimal(t, "50", f.repo.stockOf(100))
	assertDecimal(t, "15", f.repo.stockOf(200))
}

func TestUpdateSaleRejectsPostedInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createPosted(t, sale(1, 7), line(100, "5", "50"))

	changed := created.Items[0]
	changed.Quantity = dec("1")
	changed.ValueWithoutVAT = dec("1")
	_, found, err := f.svc.UpdateSale(ctx, *created, []Item{changed}, "alice")
	require.ErrorIs(t, err, ErrInvoicePosted)
	assert.ErrorIs(t, err, httpx.ErrConflict)
	assert.True(t, found)

	assertDecimal(t, "45", f.repo.stockOf(100))
	stored, err := f.svc.GetSale(ctx, created.ID, "alice")
	require.NoError(t, err)
	assertDecimal(t, "50", stored.TotalWithoutVAT)
	assertDecimal(t, "5", stored.Items[0].Quantity)
}

func TestUpdateSaleNotFoundOrNotOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{line(100, "5", "50")})
	require.NoError(t, err)

	_, found, err := f.svc.UpdateSale(ctx, Invoice{ID: 404}, nil, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = f.svc.UpdateSale(ctx, *created, nil, "mallory")
	require.NoError(t, err)
	assert.False(t, found)
	assertDecimal(t, "45", f.repo.stockOf(100))
	assert.Equal(t, 2, f.recorder.operations["update:not_found"])
}

func TestUpdateSaleWithoutOwnershipFiltering(t *testing.T) {
	f := newFixture(t, func(cfg *ServiceConfig) { cfg.OwnerOnly = false })
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), nil)
	require.NoError(t, err)

	updated, found, err := f.svc.UpdateSale(ctx, *created, []Item{line(100, "2", "20")}, "bob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bob", updated.LastModifiedBy)
	assert.Equal(t, "alice", updated.CreatedBy)
}

func TestUpdateSaleRejectsForeignItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{line(100, "1", "10")})
	require.NoError(t, err)
	second, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{line(100, "1", "10")})
	require.NoError(t, err)

	_, _, err = f.svc.UpdateSale(ctx, *second, []Item{first.Items[0]}, "alice")
	require.ErrorIs(t, err, ErrInvalidItem)
	assertDecimal(t, "48", f.repo.stockOf(100))
}

func TestUpdateSaleResolvesNewBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), nil)
	require.NoError(t, err)

	input := *created
	input.BuyerID = 9
	updated, _, err := f.svc.UpdateSale(ctx, input, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "B009", updated.BuyerCode)

	input.BuyerID = 8
	_, _, err = f.svc.UpdateSale(ctx, input, nil, "alice")
	require.ErrorIs(t, err, ErrBuyerNotFound)
}

func TestPostSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{line(100, "5", "50")})
	require.NoError(t, err)

	posted, err := f.svc.PostSale(ctx, created.ID, "mallory")
	require.NoError(t, err)
	assert.False(t, posted, "not owned")

	posted, err = f.svc.PostSale(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.True(t, posted)

	stored, err := f.svc.GetSale(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, stored.Status())
	require.NotNil(t, stored.PostedDate)
	assert.Equal(t, fixedNow, *stored.PostedDate)
	assertDecimal(t, "45", f.repo.stockOf(100))

	posted, err = f.svc.PostSale(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.False(t, posted, "already posted")

	posted, err = f.svc.PostSale(ctx, 404, "alice")
	require.NoError(t, err)
	assert.False(t, posted)
}

func TestPostSaleRejectsCancelledInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), nil)
	require.NoError(t, err)
	_, err = f.svc.CancelSale(ctx, created.ID, "typo", "alice")
	require.NoError(t, err)

	_, err = f.svc.PostSale(ctx, created.ID, "alice")
	require.ErrorIs(t, err, ErrInvoiceCancelled)
}

func TestCancelPostedSaleRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createPosted(t, sale(1, 7), line(100, "5", "50"), line(100, "2", "20"))
	assertDecimal(t, "43", f.repo.stockOf(100))

	cancelled, err := f.svc.CancelSale(ctx, created.ID, "customer refused", "alice")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assertDecimal(t, "50", f.repo.stockOf(100))

	stored, err := f.svc.GetSale(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status())
	assert.Equal(t, "customer refused", stored.CancellationReason)

	movements := f.repo.movementCount()
	cancelled, err = f.svc.CancelSale(ctx, created.ID, "again", "alice")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assertDecimal(t, "50", f.repo.stockOf(100))
	assert.Equal(t, movements, f.repo.movementCount())

	_, _, err = f.svc.UpdateSale(ctx, *created, nil, "alice")
	require.Error(t, err)
	assert.Contains(t, f.audit.actions(), "sales:invoice:cancel")
}

func TestCancelDraftSaleKeepsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), []Item{line(100, "5", "50")})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelSale(ctx, created.ID, "draft discarded", "alice")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assertDecimal(t, "45", f.repo.stockOf(100))

	_, _, err = f.svc.UpdateSale(ctx, *created, nil, "alice")
	require.ErrorIs(t, err, ErrInvoiceCancelled)
}

func TestCancelSaleNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateSale(ctx, sale(1, 7), nil)
	require.NoError(t, err)

	cancelled, err := f.svc.CancelSale(ctx, 404, "x", "alice")
	require.NoError(t, err)
	assert.False(t, cancelled)

	cancelled, err = f.svc.CancelSale(ctx, created.ID, "x", "mallory")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestGetSaleHonoursOwnership(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateSale(context.Background(), sale(1, 7), nil)
	require.NoError(t, err)
	_, err = f.svc.GetSale(context.Background(), created.ID, "mallory")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryListsNewestFirstAndHonoursOwnership(t *testing.T) {
	f := newFixture(t)
	created := f.createPosted(t, sale(1, 7), line(100, "2", "20"))

	logs, err := f.svc.History(context.Background(), created.ID, "alice", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "sales:invoice:post", logs[0].Action)
	assert.Equal(t, "sales:invoice:create", logs[1].Action)

	logs, err = f.svc.History(context.Background(), created.ID, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = f.svc.History(context.Background(), created.ID, "mallory", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
