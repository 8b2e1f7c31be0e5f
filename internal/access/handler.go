package access

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

// Handler administers user grants.
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

// MountRoutes registers access routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAccessView, shared.PermAccessEdit))
		r.Get("/modules", h.modules)
		r.Get("/users/{userID}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAccessEdit))
		r.Post("/users/{userID}", h.save)
		r.Post("/users/{userID}/business-units/{businessUnitID}", h.assign)
		r.Delete("/users/{userID}/business-units/{businessUnitID}", h.revoke)
	})
}

type saveRequest struct {
	Modules    []int64 `json:"modules" validate:"dive,gt=0"`
	Submodules []int64 `json:"submodules" validate:"dive,gt=0"`
}

func (h *Handler) modules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.service.Modules(r.Context())
	if err != nil {
		h.fail(w, "list modules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, modules)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	ua, err := h.service.UserAccess(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, "user access", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ua)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.service.SaveUserAccess(r.Context(), actor(r), userID, req.Modules, req.Submodules); err != nil {
		h.fail(w, "save user access", err)
		return
	}
	h.show(w, r)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, true)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, false)
}

func (h *Handler) membership(w http.ResponseWriter, r *http.Request, active bool) {
	bu, err := strconv.ParseInt(chi.URLParam(r, "businessUnitID"), 10, 64)
	if err != nil || bu <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Business Unit", "business unit id must be a positive integer")
		return
	}
	userID := chi.URLParam(r, "userID")
	if active {
		err = h.service.AssignBusinessUnit(r.Context(), actor(r), userID, bu)
	} else {
		err = h.service.RevokeBusinessUnit(r.Context(), actor(r), userID, bu)
	}
	if err != nil {
		h.fail(w, "business unit membership", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actor(r *http.Request) string {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.User()
	}
	return ""
}
