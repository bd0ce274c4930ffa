// Package httpx holds the JSON request/response helpers shared by every
// service's HTTP surface. All services speak the same envelope regardless of
// caller, so there is no separate internal protocol.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// ErrorBody is the wire shape of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// RespondError maps err onto the stable client-facing code set. Invariant
// violations additionally produce a fatal consistency log line; their detail
// is never sent to the client.
func RespondError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	if kind == apperr.KindInvariant || kind == 0 {
		logger.Ctx(ctx).Error().Err(err).Str("alert", "consistency").Msg("invariant violation surfaced at boundary")
		msg = "internal error"
	}
	RespondJSON(w, apperr.HTTPStatus(err), ErrorBody{Error: ErrorDetail{
		Code:    apperr.Code(err),
		Message: msg,
	}})
}

// DecodeJSON reads a JSON request body into dst, classifying malformed
// payloads as validation errors.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validationf("malformed request body: %v", err)
	}
	return nil
}
