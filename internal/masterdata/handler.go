package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// Handler manages master data endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInvoiceView, shared.PermInvoiceCreate))
		r.Get("/business-units", h.listBusinessUnits)
		r.Get("/sales-categories", h.listSalesCategories)
		r.Get("/subjects/{id}", h.showSubject)
		r.Get("/articles/{id}", h.showArticle)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockReportView))
		r.Get("/articles/negative-stock", h.negativeStock)
	})
}

func (h *Handler) listBusinessUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.BusinessUnits(r.Context())
	if err != nil {
		h.fail(w, "list business units", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"business_units": units})
}

func (h *Handler) listSalesCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.service.SalesCategories(r.Context())
	if err != nil {
		h.fail(w, "list sales categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales_categories": cats})
}

func (h *Handler) showSubject(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	subject, err := h.service.Subject(r.Context(), id)
	if err != nil {
		h.fail(w, "get subject", err)
		return
	}
	httpx.JSON(w, http.StatusOK, subject)
}

func (h *Handler) showArticle(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	article, err := h.service.Article(r.Context(), id)
	if err != nil {
		h.fail(w, "get article", err)
		return
	}
	httpx.JSON(w, http.StatusOK, article)
}

func (h *Handler) negativeStock(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	report, err := h.service.NegativeStock(r.Context(), limit)
	if err != nil {
		h.fail(w, "negative stock report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, errInvalidID):
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
	case errors.Is(err, httpx.ErrNotFound):
		httpx.RespondError(w, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
