package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// PoolService defines the methods the pool handler requires from the
// service layer.
type PoolService interface {
	CreatePool(ctx context.Context, poolID string, isActive bool) (domain.Pool, error)
	GetPool(ctx context.Context, poolID string) (domain.Pool, error)
	ListPools(ctx context.Context) []domain.Pool
	AddCollateral(ctx context.Context, poolID string, c domain.Collateral) (domain.Pool, error)
	ListCollaterals(ctx context.Context, poolID string) ([]domain.Collateral, error)
	SetPoolStatus(ctx context.Context, poolID string, isActive bool) (domain.Pool, error)
	DeletePool(ctx context.Context, poolID string) error
}

// PoolHandler serves the pool and collateral endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given service and logger.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logHandler(logger, "pool")}
}

// addCollateralRequest is the body of POST /pools/{pool_id}/collaterals/.
// Pointers distinguish a missing field from a zero value.
type addCollateralRequest struct {
	AssetID  *string  `json:"asset_id"`
	Amount   *float64 `json:"amount"`
	ValueUSD *float64 `json:"value_usd"`
}

// Validate checks the request shape only. Value rules (positive amounts,
// non-empty asset id) belong to the registry, which applies them after the
// pool's own checks.
func (req addCollateralRequest) Validate() string {
	switch {
	case req.AssetID == nil:
		return "field asset_id is required"
	case req.Amount == nil:
		return "field amount is required"
	case req.ValueUSD == nil:
		return "field value_usd is required"
	}
	return ""
}

func (req addCollateralRequest) collateral() domain.Collateral {
	return domain.Collateral{AssetID: *req.AssetID, Amount: *req.Amount, ValueUSD: *req.ValueUSD}
}

// CreatePool creates an empty pool.
// POST /pools/?pool_id=p1&is_active=true
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool_id")
	if poolID == "" {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, "query parameter pool_id is required")
		return
	}
	isActive, err := boolQuery(r, "is_active", true, false)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, err.Error())
		return
	}

	pool, err := h.pools.CreatePool(r.Context(), poolID, isActive)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// GetPool returns one pool.
// GET /pools/{pool_id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.pools.GetPool(r.Context(), pathParam(r, "pool_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// ListPools returns every pool ordered by id.
// GET /pools/
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := h.pools.ListPools(r.Context())
	if pools == nil {
		pools = []domain.Pool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// AddCollateral merges a collateral line item into a pool.
// POST /pools/{pool_id}/collaterals/
func (h *PoolHandler) AddCollateral(w http.ResponseWriter, r *http.Request) {
	var req addCollateralRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, err.Error())
		return
	}
	if msg := req.Validate(); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, msg)
		return
	}

	pool, err := h.pools.AddCollateral(r.Context(), pathParam(r, "pool_id"), req.collateral())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// ListCollaterals returns a pool's collaterals in insertion order.
// GET /pools/{pool_id}/collaterals/
func (h *PoolHandler) ListCollaterals(w http.ResponseWriter, r *http.Request) {
	cs, err := h.pools.ListCollaterals(r.Context(), pathParam(r, "pool_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if cs == nil {
		cs = []domain.Collateral{}
	}
	writeJSON(w, http.StatusOK, cs)
}

// SetPoolStatus sets the active flag.
// PUT /pools/{pool_id}/status?is_active=false
func (h *PoolHandler) SetPoolStatus(w http.ResponseWriter, r *http.Request) {
	isActive, err := boolQuery(r, "is_active", false, true)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, err.Error())
		return
	}

	pool, err := h.pools.SetPoolStatus(r.Context(), pathParam(r, "pool_id"), isActive)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// DeletePool removes a pool.
// DELETE /pools/{pool_id}
func (h *PoolHandler) DeletePool(w http.ResponseWriter, r *http.Request) {
	if err := h.pools.DeletePool(r.Context(), pathParam(r, "pool_id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
