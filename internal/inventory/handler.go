package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sentinel-iam/sentinel/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel/internal/shared"
)

// Handler serves the read side of the inventory: entities per account and
// policies per entity. Mutations go through the policies package.
type Handler struct {
	logger *slog.Logger
	repo   Repository
}

func NewHandler(logger *slog.Logger, repo Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// ListEntities handles GET /accounts/{id}/entities.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || accountID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}

	entities, err := h.repo.ListEntities(r.Context(), shared.UserIDFromContext(r.Context()), accountID)
	if err != nil {
		h.logger.Error("list entities", slog.Int64("account_id", accountID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load entities")
		return
	}
	if entities == nil {
		entities = []Entity{}
	}
	httpx.JSON(w, http.StatusOK, entities)
}

// ListPolicies handles GET /entities/{id}/policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	entityID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || entityID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entity id")
		return
	}

	policies, err := h.repo.ListPolicies(r.Context(), shared.UserIDFromContext(r.Context()), entityID)
	if err != nil {
		h.logger.Error("list policies", slog.Int64("entity_id", entityID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load policies")
		return
	}
	if policies == nil {
		policies = []Policy{}
	}
	httpx.JSON(w, http.StatusOK, policies)
}
