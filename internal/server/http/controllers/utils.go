package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rzbill/kvdb/internal/backup"
	"github.com/rzbill/kvdb/internal/datastore"
)

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes an indented JSON response. Map keys come out sorted, which
// for string keys is the same byte order the index uses.
func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

// statusFor maps datastore errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, datastore.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, datastore.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, backup.ErrBackupInProgress):
		return http.StatusConflict
	case errors.Is(err, datastore.ErrBackupUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
