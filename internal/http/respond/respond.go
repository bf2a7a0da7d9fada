// Package respond writes the JSON envelope shared by every API endpoint.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Envelope wraps every JSON API response.
type Envelope struct {
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message,omitempty"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
	Resource   string    `json:"resource,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Success writes a successful envelope. start is when handling began.
func Success(w http.ResponseWriter, r *http.Request, start time.Time, status int, message string, data any) {
	JSON(w, status, Envelope{
		Success:    true,
		StatusCode: status,
		Message:    message,
		Data:       data,
		Resource:   resource(r),
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
}

// Error writes a failed envelope.
func Error(w http.ResponseWriter, r *http.Request, start time.Time, status int, message string) {
	JSON(w, status, Envelope{
		Success:    false,
		StatusCode: status,
		Error:      message,
		Resource:   resource(r),
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
}

func resource(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.Path
}
