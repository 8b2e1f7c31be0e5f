package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// Handler exposes manual corrections and the movement journal.
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

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockReportView))
		r.Get("/articles/{id}/movements", h.movements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStockAdjust))
		r.Post("/adjustments", h.adjust)
	})
}

type adjustmentRequest struct {
	Note  string       `json:"note" validate:"required,max=200"`
	Lines []adjustLine `json:"lines" validate:"required,min=1,dive"`
}

type adjustLine struct {
	ArticleID int64           `json:"article_id" validate:"required,gt=0"`
	Delta     decimal.Decimal `json:"delta"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := ""
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		actor = sess.User()
	}
	adjustments := make([]Adjustment, 0, len(req.Lines))
	for _, line := range req.Lines {
		adjustments = append(adjustments, Adjustment{ArticleID: line.ArticleID, Delta: line.Delta})
	}
	movements, err := h.service.ApplyAdjustments(r.Context(), Reference{Reason: ReasonManual, ActorID: actor, Note: req.Note}, adjustments)
	if err != nil {
		if !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("apply stock adjustments", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"movements": movements})
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Article", "article id must be an integer")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Movements(r.Context(), id, limit)
	if err != nil {
		if !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("list stock movements", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}
