// Package httputil holds the JSON response helpers shared by the HTTP services.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("orgregistry.http")

// PrincipalHeader carries the caller's authenticated identity, set by the fronting gateway.
const PrincipalHeader = "X-Principal-ID"

// Error codes returned in the "error" field.
const (
	CodeBadRequest    = "bad_request"
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeNotFound      = "not_found"
	CodeUnprocessable = "unprocessable_entity"
	CodeInternal      = "internal_error"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warningf("failed to encode response: %v", err)
	}
}

// WriteError writes an error body. Internal errors never carry a description.
func WriteError(w http.ResponseWriter, status int, code, description string) {
	body := errorBody{Error: code}
	if status < http.StatusInternalServerError {
		body.Description = description
	}
	WriteJSON(w, status, body)
}

// Uint32Param parses the named chi URL parameter as an unsigned 32-bit id.
func Uint32Param(r *http.Request, name string) (uint32, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
