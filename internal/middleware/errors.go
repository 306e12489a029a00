package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hermes-engine/hermes/internal/herrors"
)

// errorBody is the wire shape for every structured error response the
// gateway produces.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError projects an EngineError onto the wire using its HTTPStatus,
// falling back to 500 for kinds that never carry a gateway status (e.g.
// dispatch-only errors reaching the gateway by programmer mistake).
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := herrors.As(err)
	status := http.StatusInternalServerError
	code := "INTERNAL"
	message := "internal error"
	if ok {
		if ee.HTTPStatus != 0 {
			status = ee.HTTPStatus
		}
		code = string(ee.Code)
		message = ee.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}
