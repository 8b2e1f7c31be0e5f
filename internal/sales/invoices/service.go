package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/odyssey-invoicing/internal/masterdata"
	"github.com/odyssey-erp/odyssey-invoicing/internal/numbering"
	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
	"github.com/odyssey-erp/odyssey-invoicing/internal/stock"
)

const (
	idempotencyModule = "sales.invoice"
	auditEntity       = "sales_invoice"
)

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-invoicing/internal/sales/invoices")

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// HistoryReader lists audit entries for an entity. Audit ports that also
// implement it enable Service.History.
type HistoryReader interface {
	History(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// IdempotencyPort guards against replayed create requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AccessChecker decides whether a user may operate on a business unit.
type AccessChecker interface {
	CanOperate(ctx context.Context, userID string, businessUnitID int64) (bool, error)
}

// Recorder receives operation outcomes for metrics.
type Recorder interface {
	stock.Recorder
	InvoiceOperation(operation, outcome string)
	NumberAllocated(businessUnitID int64)
}

// ServiceConfig groups optional settings and collaborators.
type ServiceConfig struct {
	// OwnerOnly restricts get, update, post and cancel to the invoice creator.
	OwnerOnly           bool
	DefaultCategoryCode string
	FallbackCategoryID  int64
	Allocator           *numbering.Allocator
	Adjuster            *stock.Adjuster
	Access              AccessChecker
	Recorder            Recorder
	Now                 func() time.Time
}

// Service coordinates sales invoice operations.
type Service struct {
	repo        Repository
	audit       AuditPort
	idempotency IdempotencyPort
	allocator   *numbering.Allocator
	adjuster    *stock.Adjuster
	access      AccessChecker
	recorder    Recorder
	logger      *slog.Logger
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo Repository, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.DefaultCategoryCode == "" {
		cfg.DefaultCategoryCode = masterdata.DomesticCategoryCode
	}
	if cfg.FallbackCategoryID <= 0 {
		cfg.FallbackCategoryID = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Allocator == nil {
		cfg.Allocator = numbering.NewAllocator(numbering.WithClock(cfg.Now))
	}
	if cfg.Adjuster == nil {
		cfg.Adjuster = stock.NewAdjuster(cfg.Now)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		allocator:   cfg.Allocator,
		adjuster:    cfg.Adjuster,
		access:      cfg.Access,
		recorder:    cfg.Recorder,
		logger:      logger,
		cfg:         cfg,
		now:         cfg.Now,
	}
}

// CreateOption customises a single CreateSale call.
type CreateOption func(*createOptions)

type createOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey rejects a second create carrying the same key.
func WithIdempotencyKey(key string) CreateOption {
	return func(o *createOptions) {
		o.idempotencyKey = strings.TrimSpace(key)
	}
}

// CreateSale persists a new draft invoice with a freshly allocated number and
// applies its stock effect. A return is a CreateSale with IsReturn set and
// items pointing at original lines. invoice.CreatedBy identifies the user.
func (s *Service) CreateSale(ctx context.Context, invoice Invoice, items []Item, opts ...CreateOption) (created *Invoice, err error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	op := "create"
	if invoice.IsReturn {
		op = "return"
	}
	ctx, span := s.startSpan(ctx, op, attribute.Int64("business_unit_id", invoice.BusinessUnitID))
	defer func() { s.finish(span, op, err) }()

	if invoice.BusinessUnitID <= 0 {
		return nil, validationf(ErrBusinessUnitRequired, "Business unit is required")
	}
	if invoice.BuyerID <= 0 {
		return nil, validationf(ErrBuyerNotFound, "Valid buyer not found")
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, invoice.CreatedBy, invoice.BusinessUnitID); err != nil {
		return nil, err
	}

	if o.idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, o.idempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, ErrDuplicateRequest
			}
			return nil, fmt.Errorf("sales: idempotency: %w", err)
		}
	}

	now := s.now().UTC()
	inv := invoice
	inv.ID = 0
	inv.IsPosted = false
	inv.PostedDate = nil
	inv.IsCancelled = false
	inv.CancellationReason = ""
	inv.CreatedAt = now
	inv.LastModifiedBy = invoice.CreatedBy
	inv.LastModifiedAt = now
	if inv.InvoiceDate.IsZero() {
		inv.InvoiceDate = now
	}
	if !inv.IsReturn {
		inv.OriginalInvoiceID = nil
		inv.OriginalInvoiceNumber = ""
	}
	lines := normalizeItems(items)

	var movements []stock.Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.resolveBuyer(ctx, tx, &inv); err != nil {
			return err
		}
		if inv.SalesCategoryID <= 0 {
			id, err := s.defaultCategory(ctx, tx)
			if err != nil {
				return err
			}
			inv.SalesCategoryID = id
		}
		if inv.IsReturn {
			scope := returnScope{BusinessUnitID: inv.BusinessUnitID, OriginalInvoiceID: inv.OriginalInvoiceID}
			original, err := validateReturnItems(ctx, tx, scope, lines)
			if err != nil {
				return err
			}
			if original != nil && inv.OriginalInvoiceID == nil {
				id := original.InvoiceID
				inv.OriginalInvoiceID = &id
				inv.OriginalInvoiceNumber = original.InvoiceNumber
			}
		}

		number, err := s.allocator.Allocate(ctx, tx.Numbering(), inv.BusinessUnitID, inv.SalesCategoryID)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number.Formatted
		inv.SequentialNumber = number.Sequential
		inv.applyTotals(ComputeTotals(lines))

		if err := tx.InsertInvoice(ctx, &inv); err != nil {
			return fmt.Errorf("sales: insert invoice: %w", err)
		}
		for i := range lines {
			lines[i].InvoiceID = inv.ID
			if err := tx.InsertItem(ctx, &lines[i]); err != nil {
				return fmt.Errorf("sales: insert invoice item: %w", err)
			}
		}

		reason := stock.ReasonSale
		if inv.IsReturn {
			reason = stock.ReasonReturn
		}
		movements, err = s.adjuster.Apply(ctx, tx.Stock(), stock.Reference{
			InvoiceID: inv.ID,
			Reason:    reason,
			ActorID:   inv.CreatedBy,
			Note:      inv.InvoiceNumber,
		}, creationAdjustments(lines, inv.IsReturn))
		return err
	})
	if err != nil {
		if o.idempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(ctx, o.idempotencyKey, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	inv.Items = lines
	if s.recorder != nil {
		s.recorder.NumberAllocated(inv.BusinessUnitID)
	}
	stock.Report(s.recorder, movements)
	s.record(ctx, inv.CreatedBy, "sales:invoice:"+op, &inv, map[string]any{
		"invoice_number": inv.InvoiceNumber,
		"items":          len(lines),
		"total_with_vat": inv.TotalWithVAT.String(),
	})
	s.logger.Info("sales invoice created",
		slog.Int64("invoice_id", inv.ID),
		slog.String("invoice_number", inv.InvoiceNumber),
		slog.Bool("is_return", inv.IsReturn))
	return &inv, nil
}

// UpdateSale replaces the items and editable header fields of a draft invoice
// and applies the net stock change. The number, business unit, category and
// return linkage are kept from the stored invoice. It reports false when the
// invoice does not exist or belongs to another user under ownership filtering.
func (s *Service) UpdateSale(ctx context.Context, invoice Invoice, items []Item, userID string) (updated *Invoice, found bool, err error) {
	ctx, span := s.startSpan(ctx, "update", attribute.Int64("invoice_id", invoice.ID))
	defer func() { s.finishFound(span, "update", found, err) }()

	if invoice.ID <= 0 {
		return nil, false, nil
	}
	if err := validateItems(items); err != nil {
		return nil, false, err
	}

	var (
		inv       Invoice
		lines     []Item
		movements []stock.Movement
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := s.lockOwned(ctx, tx, invoice.ID, userID)
		if err != nil || existing == nil {
			return err
		}
		found = true
		if err := s.authorize(ctx, userID, existing.BusinessUnitID); err != nil {
			return err
		}
		if existing.IsPosted {
			return ErrInvoicePosted
		}
		if existing.IsCancelled {
			return ErrInvoiceCancelled
		}

		current := make(map[int64]Item, len(existing.Items))
		for _, it := range existing.Items {
			current[it.ID] = it
		}
		lines = normalizeItems(items)
		kept := make(map[int64]struct{}, len(lines))
		for i := range lines {
			lines[i].InvoiceID = existing.ID
			if lines[i].ID == 0 {
				continue
			}
			if _, ok := current[lines[i].ID]; !ok {
				return validationf(ErrInvalidItem, "Item %d does not belong to invoice %s", lines[i].ID, existing.InvoiceNumber)
			}
			if _, dup := kept[lines[i].ID]; dup {
				return validationf(ErrInvalidItem, "Item %d is listed more than once", lines[i].ID)
			}
			kept[lines[i].ID] = struct{}{}
		}

		inv = *existing
		inv.InvoiceExpiryDate = invoice.InvoiceExpiryDate
		if !invoice.InvoiceDate.IsZero() {
			inv.InvoiceDate = invoice.InvoiceDate
		}
		inv.Notes = invoice.Notes
		if inv.IsReturn {
			inv.ReturnReason = invoice.ReturnReason
		}
		if invoice.BuyerID > 0 && invoice.BuyerID != existing.BuyerID {
			inv.BuyerID = invoice.BuyerID
			if err := s.resolveBuyer(ctx, tx, &inv); err != nil {
				return err
			}
		}

		if inv.IsReturn {
			scope := returnScope{
				BusinessUnitID:    inv.BusinessUnitID,
				OriginalInvoiceID: inv.OriginalInvoiceID,
				ExcludeInvoiceID:  inv.ID,
			}
			if _, err := validateReturnItems(ctx, tx, scope, lines); err != nil {
				return err
			}
		}

		adjustments := updateAdjustments(existing.Items, lines, inv.IsReturn)
		inv.applyTotals(ComputeTotals(lines))
		inv.LastModifiedBy = userID
		inv.LastModifiedAt = s.now().UTC()

		if err := tx.UpdateInvoice(ctx, &inv); err != nil {
			return fmt.Errorf("sales: update invoice: %w", err)
		}
		var removed []int64
		for _, it := range existing.Items {
			if _, ok := kept[it.ID]; !ok {
				removed = append(removed, it.ID)
			}
		}
		if err := tx.DeleteItems(ctx, inv.ID, removed); err != nil {
			return fmt.Errorf("sales: delete invoice items: %w", err)
		}
		for i := range lines {
			if lines[i].ID > 0 {
				err = tx.UpdateItem(ctx, &lines[i])
			} else {
				err = tx.InsertItem(ctx, &lines[i])
			}
			if err != nil {
				return fmt.Errorf("sales: save invoice item: %w", err)
			}
		}

		movements, err = s.adjuster.Apply(ctx, tx.Stock(), stock.Reference{
			InvoiceID: inv.ID,
			Reason:    stock.ReasonInvoiceEdit,
			ActorID:   userID,
			Note:      inv.InvoiceNumber,
		}, adjustments)
		return err
	})
	if err != nil || !found {
		return nil, found, err
	}

	inv.Items = lines
	stock.Report(s.recorder, movements)
	s.record(ctx, userID, "sales:invoice:update", &inv, map[string]any{
		"items":          len(lines),
		"total_with_vat": inv.TotalWithVAT.String(),
	})
	return &inv, true, nil
}

// PostSale moves a draft to posted. Stock and totals were settled on create and
// update. A return is re-validated so posted returns never exceed the original.
// It reports false when the invoice is missing, not owned or already posted.
func (s *Service) PostSale(ctx context.Context, id int64, userID string) (posted bool, err error) {
	ctx, span := s.startSpan(ctx, "post", attribute.Int64("invoice_id", id))
	defer func() { s.finishFound(span, "post", posted, err) }()

	var inv *Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := s.lockOwned(ctx, tx, id, userID)
		if err != nil || existing == nil {
			return err
		}
		if err := s.authorize(ctx, userID, existing.BusinessUnitID); err != nil {
			return err
		}
		if existing.IsPosted {
			return nil
		}
		if existing.IsCancelled {
			return ErrInvoiceCancelled
		}
		if existing.IsReturn {
			scope := returnScope{
				BusinessUnitID:    existing.BusinessUnitID,
				OriginalInvoiceID: existing.OriginalInvoiceID,
				ExcludeInvoiceID:  existing.ID,
			}
			if _, err := validateReturnItems(ctx, tx, scope, existing.Items); err != nil {
				return err
			}
		}
		if err := tx.MarkPosted(ctx, existing.ID, s.now().UTC(), userID); err != nil {
			return fmt.Errorf("sales: post invoice: %w", err)
		}
		inv = existing
		posted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if posted {
		s.record(ctx, userID, "sales:invoice:post", inv, map[string]any{"invoice_number": inv.InvoiceNumber})
	}
	return posted, nil
}

// CancelSale flags the invoice cancelled. A posted invoice gets its stock
// effect reversed; a draft keeps its stock as is. Cancelling twice is a no-op
// that still reports true. It reports false when the invoice is missing or not owned.
func (s *Service) CancelSale(ctx context.Context, id int64, reason, userID string) (cancelled bool, err error) {
	ctx, span := s.startSpan(ctx, "cancel", attribute.Int64("invoice_id", id))
	defer func() { s.finishFound(span, "cancel", cancelled, err) }()

	var (
		inv       *Invoice
		changed   bool
		movements []stock.Movement
	)
	reason = strings.TrimSpace(reason)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := s.lockOwned(ctx, tx, id, userID)
		if err != nil || existing == nil {
			return err
		}
		if err := s.authorize(ctx, userID, existing.BusinessUnitID); err != nil {
			return err
		}
		cancelled = true
		if existing.IsCancelled {
			return nil
		}
		if existing.IsPosted && len(existing.Items) > 0 {
			movements, err = s.adjuster.Apply(ctx, tx.Stock(), stock.Reference{
				InvoiceID: existing.ID,
				Reason:    stock.ReasonCancellation,
				ActorID:   userID,
				Note:      reason,
			}, cancellationAdjustments(existing.Items, existing.IsReturn))
			if err != nil {
				return err
			}
		}
		if err := tx.MarkCancelled(ctx, existing.ID, reason, s.now().UTC(), userID); err != nil {
			return fmt.Errorf("sales: cancel invoice: %w", err)
		}
		inv = existing
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		stock.Report(s.recorder, movements)
		s.record(ctx, userID, "sales:invoice:cancel", inv, map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"reason":         reason,
			"was_posted":     inv.IsPosted,
		})
	}
	return cancelled, nil
}

// GetSale loads an invoice, honouring ownership filtering.
func (s *Service) GetSale(ctx context.Context, id int64, userID string) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cfg.OwnerOnly && inv.CreatedBy != userID {
		return nil, ErrNotFound
	}
	return inv, nil
}

// History lists the audit trail of an invoice, newest first, under the same
// ownership rule as GetSale.
func (s *Service) History(ctx context.Context, id int64, userID string, limit int) ([]shared.AuditLog, error) {
	if _, err := s.GetSale(ctx, id, userID); err != nil {
		return nil, err
	}
	reader, ok := s.audit.(HistoryReader)
	if !ok {
		return []shared.AuditLog{}, nil
	}
	return reader.History(ctx, auditEntity, strconv.FormatInt(id, 10), limit)
}

// FindOriginalInvoice locates the posted, non-cancelled, non-return invoice a
// return may be raised against, with the quantity still returnable per line.
func (s *Service) FindOriginalInvoice(ctx context.Context, number string, businessUnitID int64) (*Invoice, error) {
	number = strings.TrimSpace(number)
	if number == "" || businessUnitID <= 0 {
		return nil, validationf(ErrOriginalNotFound, "Invoice number and business unit are required")
	}
	inv, err := s.repo.FindOriginalInvoice(ctx, number, businessUnitID)
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i := range inv.Items {
			returned, err := tx.ReturnedQuantity(ctx, inv.Items[i].ID, 0)
			if err != nil {
				return err
			}
			left := inv.Items[i].Quantity.Sub(returned)
			if left.IsNegative() {
				left = decimal.Zero
			}
			inv.Items[i].ReturnableQuantity = &left
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sales: returnable quantities: %w", err)
	}
	return inv, nil
}

// ReturnableQuantity is the original line's quantity less all posted returns against it.
func (s *Service) ReturnableQuantity(ctx context.Context, originalItemID int64) (decimal.Decimal, error) {
	var left decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		left, err = returnableQuantity(ctx, tx, originalItemID)
		return err
	})
	return left, err
}

// ValidateReturnQuantities checks return items against their original lines
// without persisting anything. The message is meant for the user.
func (s *Service) ValidateReturnQuantities(ctx context.Context, returnItems []Item) (bool, string, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := validateReturnItems(ctx, tx, returnScope{ReadOnly: true}, returnItems)
		return err
	})
	var verr *ValidationError
	if errors.As(err, &verr) {
		return false, verr.Message, nil
	}
	if err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (s *Service) lockOwned(ctx context.Context, tx TxRepository, id int64, userID string) (*Invoice, error) {
	if id <= 0 {
		return nil, nil
	}
	inv, err := tx.LockInvoice(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sales: lock invoice %d: %w", id, err)
	}
	if s.cfg.OwnerOnly && inv.CreatedBy != userID {
		return nil, nil
	}
	return inv, nil
}

func (s *Service) resolveBuyer(ctx context.Context, tx TxRepository, inv *Invoice) error {
	buyer, err := tx.GetBuyer(ctx, inv.BuyerID)
	if errors.Is(err, masterdata.ErrNotFound) || (err == nil && !buyer.IsBuyer) {
		return validationf(ErrBuyerNotFound, "Valid buyer not found")
	}
	if err != nil {
		return fmt.Errorf("sales: load buyer: %w", err)
	}
	inv.BuyerCode = buyer.Code
	inv.BuyerName = buyer.Name
	return nil
}

func (s *Service) defaultCategory(ctx context.Context, tx TxRepository) (int64, error) {
	id, err := tx.SalesCategoryIDByCode(ctx, s.cfg.DefaultCategoryCode)
	if errors.Is(err, masterdata.ErrNotFound) {
		return s.cfg.FallbackCategoryID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sales: default sales category: %w", err)
	}
	return id, nil
}

func (s *Service) authorize(ctx context.Context, userID string, businessUnitID int64) error {
	if s.access == nil {
		return nil
	}
	ok, err := s.access.CanOperate(ctx, userID, businessUnitID)
	if err != nil {
		return fmt.Errorf("sales: access check: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor, action string, inv *Invoice, meta map[string]any) {
	if s.audit == nil || inv == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   auditEntity,
		EntityID: strconv.FormatInt(inv.ID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit sales invoice", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "sales."+op)
	span.SetAttributes(attrs...)
	return ctx, span
}

func (s *Service) finish(span trace.Span, op string, err error) {
	defer span.End()
	outcome := outcomeOf(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if s.recorder != nil {
		s.recorder.InvoiceOperation(op, outcome)
	}
}

func (s *Service) finishFound(span trace.Span, op string, found bool, err error) {
	if err == nil && !found {
		span.End()
		if s.recorder != nil {
			s.recorder.InvoiceOperation(op, "not_found")
		}
		return
	}
	s.finish(span, op, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, httpx.ErrValidation), errors.Is(err, httpx.ErrConflict),
		errors.Is(err, httpx.ErrForbidden), errors.Is(err, httpx.ErrDuplicate):
		return "rejected"
	default:
		return "error"
	}
}

func validateItems(items []Item) error {
	for i, item := range items {
		if item.Quantity.IsNegative() {
			return validationf(ErrInvalidItem, "Quantity of line %d must not be negative", i+1)
		}
		if item.ArticleID < 0 {
			return validationf(ErrInvalidItem, "Article of line %d is invalid", i+1)
		}
	}
	return nil
}

// normalizeItems copies the input and numbers lines that carry no order.
func normalizeItems(items []Item) []Item {
	lines := make([]Item, len(items))
	copy(lines, items)
	for i := range lines {
		lines[i].ReturnableQuantity = nil
		if lines[i].LineOrder == 0 {
			lines[i].LineOrder = i + 1
		}
	}
	return lines
}
