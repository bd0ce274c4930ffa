package inventory

import (
	"net/http"
	"strings"

	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/httpx"
)

// Wire contracts. The same shapes serve the gateway and service-to-service
// callers; there is no separate internal protocol.
type ReserveRequest struct {
	OrderID string `json:"order_id"`
	Items   []Item `json:"items"`
}

type ReserveResponse struct {
	Reservations []Reservation `json:"reservations"`
}

type ReleaseRequest struct {
	OrderID string `json:"order_id"`
}

type ReleaseResponse struct {
	Released int `json:"released"`
}

type StockResponse struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
}

// RegisterHandlers mounts the inventory HTTP surface on mux.
func RegisterHandlers(mux *http.ServeMux, svc *Service) {
	mux.HandleFunc(constants.InventoryReservePath, httpx.Traced(constants.InventoryService, "inventory.reserve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ReserveRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		reservations, err := svc.Reserve(r.Context(), req.OrderID, req.Items)
		if err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, ReserveResponse{Reservations: reservations})
	}))

	mux.HandleFunc(constants.InventoryReleasePath, httpx.Traced(constants.InventoryService, "inventory.release", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ReleaseRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		released, err := svc.Release(r.Context(), req.OrderID)
		if err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, ReleaseResponse{Released: released})
	}))

	mux.HandleFunc(constants.InventoryStockPath, httpx.Traced(constants.InventoryService, "inventory.stock", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sku := strings.TrimPrefix(r.URL.Path, constants.InventoryStockPath)
		available, err := svc.StockLevel(r.Context(), sku)
		if err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, StockResponse{SKU: sku, Available: available})
	}))
}
