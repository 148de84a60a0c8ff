package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

// decodeJSON decodes the request body into dest enforcing strict JSON handling.
func decodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		return err
	}

	if decoder.More() {
		return errors.New("unexpected data after JSON payload")
	}

	return nil
}

// writeJSON serializes v as JSON with the provided status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int32  `json:"code,omitempty"`
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, message string, code int32) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
