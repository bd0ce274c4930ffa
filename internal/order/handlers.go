package order

import (
	"net/http"
	"strings"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/httpx"
)

type PlaceOrderRequest struct {
	Items       []Item `json:"items"`
	AmountCents int64  `json:"amount_cents"`
}

type OrderResponse struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Items       []Item `json:"items"`
	Reason      string `json:"reason,omitempty"`
}

func toResponse(o *Order) OrderResponse {
	return OrderResponse{
		OrderID:     o.ID,
		Status:      string(o.Status),
		AmountCents: o.AmountCents,
		Items:       o.Items,
		Reason:      o.Reason,
	}
}

// RegisterHandlers mounts the order API:
//
//	POST /orders              place an order and run the saga to completion
//	GET  /orders/{id}         current status
//	POST /orders/{id}/cancel  cancel before fulfillment starts
func RegisterHandlers(mux *http.ServeMux, coordinator *Coordinator) {
	const tracer = "order-service"

	mux.Handle(constants.OrdersPath, httpx.Traced(tracer, "PlaceOrder", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.RespondError(r.Context(), w, apperr.Validationf("method %s not allowed", r.Method))
			return
		}
		var req PlaceOrderRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		o, err := coordinator.PlaceOrder(r.Context(), req.Items, req.AmountCents)
		if err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusCreated, toResponse(o))
	}))

	mux.Handle(constants.OrdersPath+"/", httpx.Traced(tracer, "GetOrder", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, constants.OrdersPath+"/")

		if id, ok := strings.CutSuffix(rest, "/cancel"); ok && r.Method == http.MethodPost {
			o, err := coordinator.CancelOrder(r.Context(), id)
			if err != nil {
				httpx.RespondError(r.Context(), w, err)
				return
			}
			httpx.RespondJSON(w, http.StatusOK, toResponse(o))
			return
		}

		if r.Method != http.MethodGet {
			httpx.RespondError(r.Context(), w, apperr.Validationf("method %s not allowed", r.Method))
			return
		}
		o, err := coordinator.GetOrder(r.Context(), rest)
		if err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, toResponse(o))
	}))
}
