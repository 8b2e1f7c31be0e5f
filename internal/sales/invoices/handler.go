package invoices

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// IdempotencyHeader names the request header carrying the client's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes sales invoices and returns over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers invoice and return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInvoiceView, shared.PermInvoiceEdit, shared.PermInvoicePost))
		r.Get("/invoices/{id}", h.show)
		r.Get("/invoices/{id}/history", h.history)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInvoiceCreate))
		r.Post("/invoices", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInvoiceEdit))
		r.Post("/invoices/{id}/edit", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInvoicePost))
		r.Post("/invoices/{id}/post", h.post)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInvoiceCancel))
		r.Post("/invoices/{id}/cancel", h.cancel)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReturnCreate))
		r.Post("/returns", h.createReturn)
		r.Post("/returns/validate", h.validateReturn)
		r.Get("/returns/original", h.original)
		r.Get("/returns/items/{id}/returnable", h.returnable)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	h.createSale(w, r, false)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	h.createSale(w, r, true)
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request, isReturn bool) {
	var req SaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv := req.invoice(isReturn)
	inv.CreatedBy = currentUser(r)
	created, err := h.service.CreateSale(r.Context(), inv, toItems(req.Items),
		WithIdempotencyKey(r.Header.Get(IdempotencyHeader)))
	if err != nil {
		h.fail(w, "create sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetSale(r.Context(), id, currentUser(r))
	if err != nil {
		h.fail(w, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.service.History(r.Context(), id, currentUser(r), limit)
	if err != nil {
		h.fail(w, "sale history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": logs})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req EditRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, found, err := h.service.UpdateSale(r.Context(), req.invoice(id), toItems(req.Items), currentUser(r))
	if err != nil {
		h.fail(w, "update sale", err)
		return
	}
	if !found {
		httpx.RespondError(w, ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	posted, err := h.service.PostSale(r.Context(), id, currentUser(r))
	if err != nil {
		h.fail(w, "post sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "posted": posted})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	cancelled, err := h.service.CancelSale(r.Context(), id, req.Reason, currentUser(r))
	if err != nil {
		h.fail(w, "cancel sale", err)
		return
	}
	if !cancelled {
		httpx.RespondError(w, ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
}

func (h *Handler) original(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bu, err := strconv.ParseInt(q.Get("business_unit_id"), 10, 64)
	if err != nil || bu <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Business Unit", "business_unit_id must be a positive integer")
		return
	}
	inv, err := h.service.FindOriginalInvoice(r.Context(), q.Get("number"), bu)
	if err != nil {
		h.fail(w, "find original invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) returnable(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	qty, err := h.service.ReturnableQuantity(r.Context(), id)
	if err != nil {
		h.fail(w, "returnable quantity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"original_invoice_item_id": id, "returnable_quantity": qty})
}

func (h *Handler) validateReturn(w http.ResponseWriter, r *http.Request) {
	var req ValidateReturnRequest
	if !h.decode(w, r, &req) {
		return
	}
	ok, message, err := h.service.ValidateReturnQuantities(r.Context(), toItems(req.Items))
	if err != nil {
		h.fail(w, "validate return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": ok, "message": message})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func currentUser(r *http.Request) string {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.User()
	}
	return ""
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
