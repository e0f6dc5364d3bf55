package policies

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-iam/sentinel/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel/internal/shared"
)

// UpdatePolicyRequest replaces the policy document wholesale.
type UpdatePolicyRequest struct {
	Document map[string]any `json:"document" validate:"required"`
}

type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	policy, err := h.service.Get(r.Context(), shared.UserIDFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "load policy")
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	var req UpdatePolicyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	policy, err := h.service.Apply(r.Context(), shared.UserIDFromContext(r.Context()), id, req.Document)
	if err != nil {
		h.respondError(w, err, "apply policy")
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), shared.UserIDFromContext(r.Context()), id); err != nil {
		h.respondError(w, err, "delete policy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) policyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid policy id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "policy not found")
	case errors.Is(err, shared.ErrRemoteWriteRejected), errors.Is(err, shared.ErrRemoteUnavailable):
		httpx.Problem(w, http.StatusBadGateway, "Remote Rejected", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrUnsupported):
		httpx.Problem(w, http.StatusNotImplemented, "Not Supported", shared.UserSafeMessage(err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", shared.UserSafeMessage(err))
	}
}
