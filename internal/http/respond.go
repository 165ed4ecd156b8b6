package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/hperssn/focuswatch/internal/account"
	"github.com/hperssn/focuswatch/internal/ledger"
	"github.com/hperssn/focuswatch/internal/signal"
	"github.com/hperssn/focuswatch/internal/storage"
)

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondErr maps a service error onto its HTTP status. Unexpected errors
// are logged and reported without detail.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ledger.ErrSessionActive),
		errors.Is(err, ledger.ErrNoActiveSession),
		errors.Is(err, signal.ErrNoListener),
		errors.Is(err, signal.ErrFeedOpen):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, account.ErrInvalidSettings),
		errors.Is(err, account.ErrInvalidUsername),
		errors.Is(err, ledger.ErrOutOfOrderFrame):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		respondError(w, "internal error", status)
		return
	}

	respondError(w, err.Error(), status)
}
