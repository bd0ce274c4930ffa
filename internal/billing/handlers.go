package billing

import (
	"net/http"
	"strings"

	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/httpx"
)

type ChargeRequest struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	// IdempotencyKey may also arrive as the X-Idempotency-Key header;
	// the header wins when both are set.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type ChargeResponse struct {
	OrderID     string       `json:"order_id"`
	Status      ChargeStatus `json:"status"`
	ReferenceID string       `json:"reference_id"`
	Reason      string       `json:"reason,omitempty"`
}

type ChargesResponse struct {
	Charges []ChargeRecord `json:"charges"`
}

// RegisterHandlers mounts the billing HTTP surface on mux.
func RegisterHandlers(mux *http.ServeMux, svc *Service) {
	mux.HandleFunc(constants.BillingChargePath, httpx.Traced(constants.BillingService, "billing.charge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ChargeRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		key := r.Header.Get(constants.HeaderIdempotencyKey)
		if key == "" {
			key = req.IdempotencyKey
		}
		record, err := svc.Charge(r.Context(), req.OrderID, req.AmountCents, key)
		if err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, ChargeResponse{
			OrderID:     record.OrderID,
			Status:      record.Status,
			ReferenceID: record.ReferenceID,
			Reason:      record.Reason,
		})
	}))

	mux.HandleFunc(constants.BillingChargesPath, httpx.Traced(constants.BillingService, "billing.charges", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		orderID := strings.TrimPrefix(r.URL.Path, constants.BillingChargesPath)
		charges, err := svc.ChargesForOrder(r.Context(), orderID)
		if err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, ChargesResponse{Charges: charges})
	}))
}
