package api

import (
	"encoding/json"
	"net/http"

	"github.com/tuva-labs/tuva-server/internal/store"
)

// All error responses share one envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps an internal error onto the API status taxonomy.
// Ownership mismatches surface as the same not-found message as missing
// conversations on purpose.
func writeServiceError(w http.ResponseWriter, err error) {
	status := store.StatusOf(err)
	if status == http.StatusNotFound {
		writeError(w, status, store.ErrNotFound.Error())
		return
	}
	writeError(w, status, err.Error())
}
