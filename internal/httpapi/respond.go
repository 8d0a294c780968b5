package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vtmuxd/vtmuxd/internal/apierr"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape for every non-2xx response (spec §7).
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// writeAPIError maps err's apierr.Kind to a status code and stable wire
// code and writes it. Errors without a tagged Kind surface as 500 with
// code "internal" rather than leaking internal error text.
func writeAPIError(w http.ResponseWriter, err error) {
	status := apierr.HTTPStatus(err)
	code := apierr.Code(err)
	msg := code
	var details string
	var ae *apierr.Error
	if errors.As(err, &ae) {
		msg = ae.Reason
		details = ae.Details
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code, Details: details})
}
