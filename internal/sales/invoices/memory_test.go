package invoices

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoicing/internal/masterdata"
	"github.com/odyssey-erp/odyssey-invoicing/internal/numbering"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
	"github.com/odyssey-erp/odyssey-invoicing/internal/stock"
)

var errInjected = errors.New("injected store failure")

type formatKey struct {
	bu  int64
	cat int64
}

// memoryState is everything a transaction may touch. Transactions work on a
// clone and only replace the committed state on success.
type memoryState struct {
	invoices   map[int64]Invoice
	items      map[int64]Item
	formats    map[formatKey]numbering.Format
	stock      map[int64]decimal.Decimal
	movements  []stock.Movement
	subjects   map[int64]masterdata.Subject
	categories map[string]int64
	buCodes    map[int64]string
	catCodes   map[int64]string
	seq        struct{ invoice, item, format int64 }
}

func (s *memoryState) clone() *memoryState {
	c := *s
	c.invoices = make(map[int64]Invoice, len(s.invoices))
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	c.items = make(map[int64]Item, len(s.items))
	for k, v := range s.items {
		c.items[k] = v
	}
	c.formats = make(map[formatKey]numbering.Format, len(s.formats))
	for k, v := range s.formats {
		c.formats[k] = v
	}
	c.stock = make(map[int64]decimal.Decimal, len(s.stock))
	for k, v := range s.stock {
		c.stock[k] = v
	}
	c.movements = append([]stock.Movement(nil), s.movements...)
	return &c
}

// memoryRepo serializes transactions with one mutex, which is stricter than
// row locks but enough to observe atomicity.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
	// failInsertItem makes the n-th InsertItem call of a transaction fail.
	failInsertItem int
	// itemLocks counts LockOriginalItem calls across all transactions.
	itemLocks int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		invoices: make(map[int64]Invoice),
		items:    make(map[int64]Item),
		formats:  make(map[formatKey]numbering.Format),
		stock:    map[int64]decimal.Decimal{100: decimal.NewFromInt(50), 200: decimal.NewFromInt(20)},
		subjects: map[int64]masterdata.Subject{
			7: {ID: 7, Code: "B007", Name: "Buyer Seven", IsBuyer: true, IsActive: true},
			8: {ID: 8, Code: "S008", Name: "Supplier Eight", IsSupplier: true, IsActive: true},
			9: {ID: 9, Code: "B009", Name: "Buyer Nine", IsBuyer: true, IsActive: true},
		},
		categories: map[string]int64{"DOM": 3, "EXP": 4},
		buCodes:    map[int64]string{1: "001", 2: "002"},
		catCodes:   map[int64]string{1: "GEN", 3: "DOM", 4: "EXP"},
	}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{st: m.state.clone(), failInsertItem: m.failInsertItem}
	err := fn(ctx, tx)
	m.itemLocks += tx.itemLocks
	if err != nil {
		return err
	}
	m.state = tx.st
	return nil
}

func (m *memoryRepo) GetInvoice(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.load(id)
}

func (m *memoryRepo) FindOriginalInvoice(_ context.Context, number string, bu int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inv := range m.state.invoices {
		if inv.InvoiceNumber == number && inv.BusinessUnitID == bu && inv.IsPosted && !inv.IsCancelled && !inv.IsReturn {
			return m.state.load(id)
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) stockOf(articleID int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.stock[articleID]
}

func (m *memoryRepo) counter(bu, cat int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.formats[formatKey{bu, cat}].LastUsedSequentialNumber
}

func (m *memoryRepo) lockedItems() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itemLocks
}

func (m *memoryRepo) movementCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.movements)
}

func (m *memoryRepo) invoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.invoices)
}

func (s *memoryState) load(id int64) (*Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	inv.Items = nil
	for _, it := range s.items {
		if it.InvoiceID == id {
			inv.Items = append(inv.Items, it)
		}
	}
	sort.Slice(inv.Items, func(i, j int) bool {
		if inv.Items[i].LineOrder != inv.Items[j].LineOrder {
			return inv.Items[i].LineOrder < inv.Items[j].LineOrder
		}
		return inv.Items[i].ID < inv.Items[j].ID
	})
	return &inv, nil
}

type memoryTx struct {
	st             *memoryState
	failInsertItem int
	itemInserts    int
	itemLocks      int
}

func (t *memoryTx) Numbering() numbering.Store { return t }

func (t *memoryTx) Stock() stock.Store { return t }

func (t *memoryTx) GetBuyer(_ context.Context, id int64) (masterdata.Subject, error) {
	s, ok := t.st.subjects[id]
	if !ok {
		return masterdata.Subject{}, masterdata.ErrNotFound
	}
	return s, nil
}

func (t *memoryTx) SalesCategoryIDByCode(_ context.Context, code string) (int64, error) {
	id, ok := t.st.categories[code]
	if !ok {
		return 0, masterdata.ErrNotFound
	}
	return id, nil
}

func (t *memoryTx) LockInvoice(_ context.Context, id int64) (*Invoice, error) {
	return t.st.load(id)
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv *Invoice) error {
	t.st.seq.invoice++
	inv.ID = t.st.seq.invoice
	stored := *inv
	stored.Items = nil
	t.st.invoices[inv.ID] = stored
	return nil
}

func (t *memoryTx) UpdateInvoice(_ context.Context, inv *Invoice) error {
	stored := *inv
	stored.Items = nil
	t.st.invoices[inv.ID] = stored
	return nil
}

func (t *memoryTx) InsertItem(_ context.Context, item *Item) error {
	t.itemInserts++
	if t.failInsertItem > 0 && t.itemInserts == t.failInsertItem {
		return errInjected
	}
	t.st.seq.item++
	item.ID = t.st.seq.item
	t.st.items[item.ID] = *item
	return nil
}

func (t *memoryTx) UpdateItem(_ context.Context, item *Item) error {
	t.st.items[item.ID] = *item
	return nil
}

func (t *memoryTx) DeleteItems(_ context.Context, invoiceID int64, ids []int64) error {
	for _, id := range ids {
		if it, ok := t.st.items[id]; ok && it.InvoiceID == invoiceID {
			delete(t.st.items, id)
		}
	}
	return nil
}

func (t *memoryTx) MarkPosted(_ context.Context, id int64, at time.Time, userID string) error {
	inv := t.st.invoices[id]
	inv.IsPosted = true
	inv.PostedDate = &at
	inv.LastModifiedAt = at
	inv.LastModifiedBy = userID
	t.st.invoices[id] = inv
	return nil
}

func (t *memoryTx) MarkCancelled(_ context.Context, id int64, reason string, at time.Time, userID string) error {
	inv := t.st.invoices[id]
	inv.IsCancelled = true
	inv.CancellationReason = reason
	inv.LastModifiedAt = at
	inv.LastModifiedBy = userID
	t.st.invoices[id] = inv
	return nil
}

func (t *memoryTx) LockOriginalItem(ctx context.Context, itemID int64) (OriginalItem, error) {
	t.itemLocks++
	return t.FindOriginalItem(ctx, itemID)
}

func (t *memoryTx) FindOriginalItem(_ context.Context, itemID int64) (OriginalItem, error) {
	it, ok := t.st.items[itemID]
	if !ok {
		return OriginalItem{}, ErrNotFound
	}
	inv := t.st.invoices[it.InvoiceID]
	return OriginalItem{
		ItemID:         it.ID,
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		BusinessUnitID: inv.BusinessUnitID,
		ArticleID:      it.ArticleID,
		Description:    it.Description,
		Quantity:       it.Quantity,
		IsPosted:       inv.IsPosted,
		IsCancelled:    inv.IsCancelled,
		IsReturn:       inv.IsReturn,
	}, nil
}

func (t *memoryTx) ReturnedQuantity(_ context.Context, originalItemID, excludeInvoiceID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, it := range t.st.items {
		if it.OriginalInvoiceItemID == nil || *it.OriginalInvoiceItemID != originalItemID {
			continue
		}
		inv := t.st.invoices[it.InvoiceID]
		if inv.ID == excludeInvoiceID || !inv.IsReturn || !inv.IsPosted || inv.IsCancelled {
			continue
		}
		total = total.Add(it.Quantity)
	}
	return total, nil
}

func (t *memoryTx) LockFormat(_ context.Context, bu, cat int64) (numbering.Format, error) {
	f, ok := t.st.formats[formatKey{bu, cat}]
	if !ok {
		return numbering.Format{}, numbering.ErrFormatNotFound
	}
	return f, nil
}

func (t *memoryTx) InsertFormat(_ context.Context, f numbering.Format) (numbering.Format, error) {
	k := formatKey{f.BusinessUnitID, f.SalesCategoryID}
	if _, ok := t.st.formats[k]; ok {
		return numbering.Format{}, numbering.ErrFormatExists
	}
	t.st.seq.format++
	f.ID = t.st.seq.format
	t.st.formats[k] = f
	return f, nil
}

func (t *memoryTx) SaveCounter(_ context.Context, formatID, lastUsed int64, at time.Time) error {
	for k, f := range t.st.formats {
		if f.ID == formatID {
			f.LastUsedSequentialNumber = lastUsed
			f.LastModifiedAt = at
			t.st.formats[k] = f
			return nil
		}
	}
	return numbering.ErrFormatNotFound
}

func (t *memoryTx) BusinessUnitCode(_ context.Context, bu int64) (string, error) {
	return t.st.buCodes[bu], nil
}

func (t *memoryTx) SalesCategoryCode(_ context.Context, cat int64) (string, error) {
	return t.st.catCodes[cat], nil
}

func (t *memoryTx) LockArticleStock(_ context.Context, articleID int64) (stock.Level, error) {
	qty, ok := t.st.stock[articleID]
	if !ok {
		return stock.Level{}, stock.ErrArticleNotFound
	}
	return stock.Level{ArticleID: articleID, StockQuantity: qty}, nil
}

func (t *memoryTx) SetStockQuantity(_ context.Context, articleID int64, qty decimal.Decimal, _ time.Time) error {
	t.st.stock[articleID] = qty
	return nil
}

func (t *memoryTx) InsertMovement(_ context.Context, mv stock.Movement) error {
	t.st.movements = append(t.st.movements, mv)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]struct{})}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[module+"/"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) History(_ context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]shared.AuditLog, 0)
	for i := len(a.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if a.logs[i].Entity == entity && a.logs[i].EntityID == entityID {
			out = append(out, a.logs[i])
		}
	}
	return out, nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type countingRecorder struct {
	mu         sync.Mutex
	operations map[string]int
	numbers    int
	stock      map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{operations: make(map[string]int), stock: make(map[string]int)}
}

func (c *countingRecorder) InvoiceOperation(op, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations[op+":"+outcome]++
}

func (c *countingRecorder) NumberAllocated(int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numbers++
}

func (c *countingRecorder) StockAdjusted(direction string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[direction] += n
}

type staticAccess map[int64]bool

func (a staticAccess) CanOperate(_ context.Context, _ string, bu int64) (bool, error) {
	return a[bu], nil
}
