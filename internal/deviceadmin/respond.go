package deviceadmin

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/banshee-data/depth.capture/internal/device"
)

// writeJSON writes an indented JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// writeError reports err as a JSON error with a status derived from the
// device sentinel it wraps.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrNotStarted), errors.Is(err, device.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, device.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, device.ErrClosed):
		return http.StatusGone
	case errors.Is(err, device.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusServiceUnavailable
}
