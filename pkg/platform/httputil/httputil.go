// Package httputil provides JSON response and request helpers shared by
// all HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "signalos/pkg/domain-errors"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON encodes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps a domain error to an HTTP status and JSON body. Internal
// errors omit the description so database details never reach clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		resp.ErrorDescription = dErrors.MessageOf(err)
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}

// Decode parses the JSON request body into dst. On failure it writes a
// bad-request response and returns false.
func Decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var dst T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return dst, false
	}
	return dst, true
}
