package api

import (
	"encoding/json"
	"net/http"
)

// Error codes surfaced to management callers, alongside the subscription
// parser's own codes which pass through verbatim.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeDeleteFailed         = "DELETE_FAILED"
	CodeInvalidCustomHeaders = "INVALID_CUSTOM_HEADERS"
	CodeInvalid              = "INVALID"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
