package localization

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// Handler serves localization strings.
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

// MountRoutes registers localization routes. Reads are open to any signed in user.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/languages", h.languages)
	r.Get("/strings", h.negotiated)
	r.Get("/strings/{lang}", h.strings)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermLocalizationEdit))
		r.Post("/strings/{lang}", h.save)
	})
}

type stringsResponse struct {
	Language string            `json:"language"`
	Strings  map[string]string `json:"strings"`
}

type saveRequest struct {
	Key      string `json:"key" validate:"required,max=50"`
	Text     string `json:"text" validate:"required"`
	Category string `json:"category" validate:"max=50"`
}

func (h *Handler) languages(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Languages(r.Context())
	if err != nil {
		h.fail(w, "list languages", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) negotiated(w http.ResponseWriter, r *http.Request) {
	lang, err := h.service.Negotiate(r.Context(), r.Header.Get("Accept-Language"))
	if err != nil {
		h.fail(w, "negotiate language", err)
		return
	}
	h.respondStrings(w, r, lang.Code)
}

func (h *Handler) strings(w http.ResponseWriter, r *http.Request) {
	h.respondStrings(w, r, chi.URLParam(r, "lang"))
}

func (h *Handler) respondStrings(w http.ResponseWriter, r *http.Request, code string) {
	all, err := h.service.GetAll(r.Context(), code)
	if err != nil {
		h.fail(w, "load strings", err)
		return
	}
	w.Header().Set("Content-Language", code)
	httpx.JSON(w, http.StatusOK, stringsResponse{Language: code, Strings: all})
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
	if err := h.service.SetString(r.Context(), chi.URLParam(r, "lang"), req.Key, req.Text, req.Category); err != nil {
		h.fail(w, "save string", err)
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
