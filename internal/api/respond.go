package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/serialmux"
	"github.com/banshee-data/convlink/internal/units"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeLinkError maps an error from the controller to a status code.
func writeLinkError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, units.ErrReferenceRange):
		status = http.StatusBadRequest
	case errors.Is(err, serialmux.ErrDeviceDisabled), errors.Is(err, serialmux.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	case errors.Is(err, serialmux.ErrNoResponse),
		errors.Is(err, serialmux.ErrWriteFailed),
		errors.Is(err, protocol.ErrFrameTooShort),
		errors.Is(err, protocol.ErrResponseTooShort):
		status = http.StatusBadGateway
	}
	writeJSONError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// limitParam parses the "limit" query parameter.
func limitParam(r *http.Request, def, max int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
