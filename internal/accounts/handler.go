package accounts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-iam/sentinel/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel/internal/shared"
)

// SyncEnqueuer queues a background sync run and returns its task id.
// Satisfied by jobs.Client.
type SyncEnqueuer interface {
	EnqueueIAMSync(ctx context.Context, accountID int64) (string, error)
}

type Handler struct {
	logger    *slog.Logger
	service   *Service
	enqueuer  SyncEnqueuer
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, enqueuer SyncEnqueuer) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		enqueuer:  enqueuer,
		validator: validator.New(),
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserIDFromContext(r.Context())
	accounts, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load accounts")
		return
	}
	if accounts == nil {
		accounts = []Account{}
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	account, err := h.service.Get(r.Context(), shared.UserIDFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "load account")
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	account, err := h.service.Create(r.Context(), shared.UserIDFromContext(r.Context()), req)
	if err != nil {
		h.respondError(w, err, "create account")
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req UpdateAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	account, err := h.service.Update(r.Context(), shared.UserIDFromContext(r.Context()), id, req)
	if err != nil {
		h.respondError(w, err, "update account")
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), shared.UserIDFromContext(r.Context()), id); err != nil {
		h.respondError(w, err, "delete account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerSync queues a background sync for the account. The caller learns
// about the result through the account's health fields, not this response.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(r.Context(), shared.UserIDFromContext(r.Context()), id); err != nil {
		h.respondError(w, err, "load account")
		return
	}

	taskID, err := h.enqueuer.EnqueueIAMSync(r.Context(), id)
	if err != nil {
		h.logger.Error("enqueue sync", slog.Int64("account_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Sync Unavailable", "failed to queue sync task")
		return
	}
	httpx.JSON(w, http.StatusAccepted, SyncAccepted{TaskID: taskID})
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "account not found")
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", shared.UserSafeMessage(err))
}
