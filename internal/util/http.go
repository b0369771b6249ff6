package util

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTP header constants.
const (
	HeaderContentType = "Content-Type"
	HeaderRetryAfter  = "Retry-After"
	HeaderRequestID   = "X-Request-ID"

	ContentTypeJSON = "application/json"
)

// ErrorBody is the JSON error envelope returned on every failed gateway
// request.
type ErrorBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// WriteError writes the standard JSON error envelope. A non-zero retryAfter
// sets the Retry-After header, rounded up to whole seconds.
func WriteError(w http.ResponseWriter, status int, message string, retryAfter time.Duration) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	if retryAfter > 0 {
		secs := int(retryAfter / time.Second)
		if retryAfter%time.Second > 0 {
			secs++
		}
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(secs))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Success:    false,
		Error:      message,
		StatusCode: status,
	})
}

// ClientIP extracts the client IP from the request, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")

	return ip
}
