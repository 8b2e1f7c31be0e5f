package numbering

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// Handler serves number format administration.
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

// MountRoutes registers format routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermNumberFormatView, shared.PermNumberFormatEdit))
		r.Get("/{businessUnitID}/{salesCategoryID}", h.show)
		r.Get("/{businessUnitID}/{salesCategoryID}/preview", h.preview)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermNumberFormatEdit))
		r.Post("/{businessUnitID}/{salesCategoryID}", h.save)
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	bu, cat, ok := parseKey(w, r)
	if !ok {
		return
	}
	format, err := h.service.GetFormat(r.Context(), bu, cat)
	if err != nil {
		h.fail(w, "get format", err)
		return
	}
	httpx.JSON(w, http.StatusOK, format)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	bu, cat, ok := parseKey(w, r)
	if !ok {
		return
	}
	number, err := h.service.PreviewNext(r.Context(), bu, cat)
	if err != nil {
		h.fail(w, "preview number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, number)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	bu, cat, ok := parseKey(w, r)
	if !ok {
		return
	}
	var input SaveFormatInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	input.BusinessUnitID = bu
	input.SalesCategoryID = cat
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	format, err := h.service.SaveFormat(r.Context(), input)
	if err != nil {
		h.fail(w, "save format", err)
		return
	}
	httpx.JSON(w, http.StatusOK, format)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseKey(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	bu, err := strconv.ParseInt(chi.URLParam(r, "businessUnitID"), 10, 64)
	if err != nil || bu <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Business Unit", "business unit id must be a positive integer")
		return 0, 0, false
	}
	cat, err := strconv.ParseInt(chi.URLParam(r, "salesCategoryID"), 10, 64)
	if err != nil || cat <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Sales Category", "sales category id must be a positive integer")
		return 0, 0, false
	}
	return bu, cat, true
}
