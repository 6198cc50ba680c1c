package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// SalesHandler serves extracted sales.
type SalesHandler struct {
	sales  domain.SaleStore
	logger *slog.Logger
}

// NewSalesHandler creates a SalesHandler.
func NewSalesHandler(sales domain.SaleStore, logger *slog.Logger) *SalesHandler {
	return &SalesHandler{sales: sales, logger: logger.With(slog.String("handler", "sales"))}
}

// GetSale returns the sale of an item by its external id.
// GET /api/sales/{apiID}
func (h *SalesHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	apiID := r.PathValue("apiID")
	s, err := h.sales.GetByItemAPIID(r.Context(), apiID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no sale for item "+apiID)
		return
	}
	if err != nil {
		internalError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_api_id":       s.ItemAPIID,
		"name":              s.Name,
		"is_currency":       s.IsCurrency,
		"sale_currency":     s.SaleCurrency,
		"sale_amount":       s.SaleAmount,
		"sale_amount_chaos": s.SaleAmountChaos,
		"item_updated_at":   unixOrZero(s.ItemUpdatedAt),
		"updated_at":        unixOrZero(s.UpdatedAt),
	})
}
