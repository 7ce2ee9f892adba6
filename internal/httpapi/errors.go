package httpapi

import (
	"encoding/json"
	"net/http"

	"annotd/internal/annotate"
	"annotd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// httpStatus maps an invocation status onto an HTTP status code.
func httpStatus(s annotate.Status) int {
	switch s {
	case annotate.StatusOK:
		return http.StatusOK
	case annotate.StatusBadInput:
		return http.StatusBadRequest
	case annotate.StatusNotFound:
		return http.StatusNotFound
	case annotate.StatusResourceExhausted:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
