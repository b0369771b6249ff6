package util

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusTooManyRequests, "rate limit exceeded", 1500*time.Millisecond)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))
	// Fractional seconds round up.
	assert.Equal(t, "2", rec.Header().Get(HeaderRetryAfter))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "rate limit exceeded", body.Error)
	assert.Equal(t, http.StatusTooManyRequests, body.StatusCode)
}

func TestWriteError_NoRetryAfter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "route not found", 0)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderRetryAfter))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "10.1.2.3:52814",
			want:       "10.1.2.3",
		},
		{
			name:       "x-forwarded-for first hop wins",
			remoteAddr: "10.1.2.3:52814",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.1.2.3:52814",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
		{
			name:       "ipv6 brackets stripped",
			remoteAddr: "[::1]:9000",
			want:       "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestIdentity(t *testing.T) {
	t.Parallel()

	id := &Identity{
		Subject:     "partner-key-1",
		Roles:       []string{"partner", "reporting"},
		Permissions: []string{"orders:read"},
	}

	assert.True(t, id.HasRole("partner"))
	assert.False(t, id.HasRole("admin"))
	assert.True(t, id.HasPermission("orders:read"))
	assert.False(t, id.HasPermission("orders:write"))
}
