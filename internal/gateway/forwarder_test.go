package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

func TestForwarder_Forward(t *testing.T) {
	t.Parallel()

	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("X-Partner", "pong")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	partner := &config.Partner{
		ID:      "p1",
		BaseURL: srv.URL,
		Credential: config.PartnerCredential{
			Type:  config.CredentialBearer,
			Value: "partner-token",
		},
		Headers: map[string]string{"X-Partner-Env": "prod"},
	}

	inbound := httptest.NewRequest(http.MethodPost, "/api/v1/gateway/orders?limit=5", nil)
	inbound.Header.Set("X-Trace", "abc")
	inbound.Header.Set("Connection", "keep-alive")

	f := NewForwarder(zap.NewNop())
	resp, err := f.Forward(context.Background(), partner, inbound, []byte(`{"a":1}`), "/orders")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", resp.Header.Get("X-Partner"))
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))

	require.NotNil(t, got)
	assert.Equal(t, "/orders", got.URL.Path)
	assert.Equal(t, "limit=5", got.URL.RawQuery)
	assert.Equal(t, "Bearer partner-token", got.Header.Get("Authorization"))
	assert.Equal(t, "prod", got.Header.Get("X-Partner-Env"))
	assert.Equal(t, "abc", got.Header.Get("X-Trace"))
}

func TestForwarder_CredentialInjection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cred       config.PartnerCredential
		wantHeader string
		wantValue  string
	}{
		{
			name:       "bearer",
			cred:       config.PartnerCredential{Type: config.CredentialBearer, Value: "tok"},
			wantHeader: "Authorization",
			wantValue:  "Bearer tok",
		},
		{
			name:       "api key default header",
			cred:       config.PartnerCredential{Type: config.CredentialAPIKey, Value: "key123"},
			wantHeader: "X-API-Key",
			wantValue:  "key123",
		},
		{
			name:       "api key custom header",
			cred:       config.PartnerCredential{Type: config.CredentialAPIKey, Header: "X-Token", Value: "key123"},
			wantHeader: "X-Token",
			wantValue:  "key123",
		},
		{
			name:       "basic",
			cred:       config.PartnerCredential{Type: config.CredentialBasic, Value: "user:pass"},
			wantHeader: "Authorization",
			wantValue:  "Basic dXNlcjpwYXNz",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			injectCredential(req, &tt.cred)
			assert.Equal(t, tt.wantValue, req.Header.Get(tt.wantHeader))
		})
	}
}

func TestForwarder_TransportError(t *testing.T) {
	t.Parallel()

	partner := &config.Partner{ID: "p1", BaseURL: "http://127.0.0.1:1"}
	inbound := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/x", nil)

	f := NewForwarder(zap.NewNop())
	_, err := f.Forward(context.Background(), partner, inbound, nil, "/x")
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrPartnerTransport)
	assert.Equal(t, http.StatusBadGateway, util.StatusFor(err))
}

func TestForwarder_BadTarget(t *testing.T) {
	t.Parallel()

	partner := &config.Partner{ID: "p1", BaseURL: "ftp://example.com"}
	inbound := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/x", nil)

	f := NewForwarder(zap.NewNop())
	_, err := f.Forward(context.Background(), partner, inbound, nil, "/x")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, util.StatusFor(err))
}

func TestForwarder_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	partner := &config.Partner{
		ID:      "p1",
		BaseURL: srv.URL,
		Timeout: config.Duration(20 * time.Millisecond),
	}
	inbound := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/x", nil)

	f := NewForwarder(zap.NewNop())
	_, err := f.Forward(context.Background(), partner, inbound, nil, "/x")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, util.StatusFor(err))
}
