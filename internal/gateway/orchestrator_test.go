package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/circuitbreaker"
	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/ratelimit"
	"github.com/wirebridge/partnergw/internal/ratelimit/store"
	"github.com/wirebridge/partnergw/internal/router"
	"github.com/wirebridge/partnergw/internal/util"
)

// partnerEcho is an httptest upstream recording what it received.
type partnerEcho struct {
	mu     sync.Mutex
	status int
	last   *http.Request
	body   []byte
	count  int
}

func (p *partnerEcho) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.last = r.Clone(r.Context())
		p.body = body
		p.count++
		status := p.status
		p.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"partner":"response"}`))
	}
}

func (p *partnerEcho) setStatus(code int) {
	p.mu.Lock()
	p.status = code
	p.mu.Unlock()
}

func (p *partnerEcho) requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func baseConfig(partnerURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BreakerFailureThreshold = 3
	cfg.BreakerOpenTimeout = config.Duration(time.Minute)
	cfg.Partners = []config.Partner{{
		ID:      "acme",
		BaseURL: partnerURL,
		Credential: config.PartnerCredential{
			Type:  config.CredentialAPIKey,
			Value: "outbound-key",
		},
	}}
	cfg.Routes = []config.Route{
		{
			ID:          "orders-get",
			Method:      "ANY",
			PathPattern: "/orders/:id",
			PartnerID:   "acme",
			Priority:    10,
			CreatedAt:   time.Now(),
			Enabled:     true,
		},
		{
			ID:              "limited",
			Method:          "ANY",
			PathPattern:     "/limited",
			PartnerID:       "acme",
			RateLimitRuleID: "rl-1",
			Priority:        10,
			CreatedAt:       time.Now(),
			Enabled:         true,
		},
		{
			ID:          "secured",
			Method:      "ANY",
			PathPattern: "/secured",
			PartnerID:   "acme",
			Middleware: []config.MiddlewareConfig{{
				Type: config.MiddlewareAuthentication,
				Auth: &config.AuthConfig{
					Scheme: "api_key",
					Keys:   []config.APIKey{{ID: "k1", Hash: "letmein", HashAlg: "plaintext"}},
				},
			}},
			Priority:  10,
			CreatedAt: time.Now(),
			Enabled:   true,
		},
		{
			ID:          "validated",
			Method:      "POST",
			PathPattern: "/validated",
			PartnerID:   "acme",
			Middleware: []config.MiddlewareConfig{{
				Type:       config.MiddlewareValidation,
				Validation: &config.ValidationConfig{RequiredFields: []string{"orderId"}},
			}},
			Priority:  10,
			CreatedAt: time.Now(),
			Enabled:   true,
		},
	}
	cfg.RateLimitRules = []config.RateLimitRule{{
		ID:        "rl-1",
		PartnerID: "acme",
		Algorithm: config.AlgorithmFixedWindow,
		Limit:     1,
		Window:    config.Duration(time.Minute),
	}}
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) *Orchestrator {
	t.Helper()

	resolver := router.NewResolver(cfg.Routes, zap.NewNop())
	limits := ratelimit.NewRegistry(store.NewMemoryStore(), zap.NewNop())
	t.Cleanup(func() { _ = limits.Close() })
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout.Duration(),
	}, zap.NewNop())

	return NewOrchestrator(cfg, resolver, limits, breakers, NewForwarder(zap.NewNop()), zap.NewNop())
}

func doGateway(o *Orchestrator, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) util.ErrorBody {
	t.Helper()
	var body util.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestOrchestrator_ForwardsToPartner(t *testing.T) {
	t.Parallel()

	partner := &partnerEcho{status: http.StatusOK}
	srv := httptest.NewServer(partner.handler())
	defer srv.Close()

	o := newTestOrchestrator(t, baseConfig(srv.URL))

	rec := doGateway(o, http.MethodGet, "/api/v1/gateway/orders/42?limit=5", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"partner":"response"}`, rec.Body.String())

	require.NotNil(t, partner.last)
	assert.Equal(t, "/orders/42", partner.last.URL.Path)
	assert.Equal(t, "limit=5", partner.last.URL.RawQuery)
	assert.Equal(t, "outbound-key", partner.last.Header.Get("X-API-Key"))
}

func TestOrchestrator_RouteNotFound(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, baseConfig("http://unused.example"))

	rec := doGateway(o, http.MethodGet, "/api/v1/gateway/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeError(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusNotFound, body.StatusCode)
}

func TestOrchestrator_RateLimited(t *testing.T) {
	t.Parallel()

	partner := &partnerEcho{status: http.StatusOK}
	srv := httptest.NewServer(partner.handler())
	defer srv.Close()

	o := newTestOrchestrator(t, baseConfig(srv.URL))

	first := doGateway(o, http.MethodGet, "/api/v1/gateway/limited", "", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := doGateway(o, http.MethodGet, "/api/v1/gateway/limited", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get(util.HeaderRetryAfter))
	assert.Equal(t, http.StatusTooManyRequests, decodeError(t, second).StatusCode)

	// Only the admitted request reached the partner.
	assert.Equal(t, 1, partner.requests())
}

func TestOrchestrator_CircuitOpens(t *testing.T) {
	t.Parallel()

	partner := &partnerEcho{status: http.StatusInternalServerError}
	srv := httptest.NewServer(partner.handler())
	defer srv.Close()

	o := newTestOrchestrator(t, baseConfig(srv.URL))

	// Partner 5xx responses are relayed and counted as failures.
	for i := 0; i < 3; i++ {
		rec := doGateway(o, http.MethodGet, "/api/v1/gateway/orders/1", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	rec := doGateway(o, http.MethodGet, "/api/v1/gateway/orders/1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(util.HeaderRetryAfter))
	assert.Equal(t, 3, partner.requests())
}

func TestOrchestrator_AbortedTrialDoesNotWedgeBreaker(t *testing.T) {
	t.Parallel()

	partner := &partnerEcho{status: http.StatusInternalServerError}
	srv := httptest.NewServer(partner.handler())
	defer srv.Close()

	cfg := baseConfig(srv.URL)
	cfg.BreakerFailureThreshold = 1
	cfg.BreakerOpenTimeout = config.Duration(50 * time.Millisecond)

	o := newTestOrchestrator(t, cfg)

	// Trip the breaker, then let the partner recover during the open
	// window.
	rec := doGateway(o, http.MethodGet, "/api/v1/gateway/orders/1", "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	partner.setStatus(http.StatusOK)
	time.Sleep(60 * time.Millisecond)

	// The credential-less request takes the half-open trial but is
	// rejected by the authentication middleware before the partner call.
	denied := doGateway(o, http.MethodGet, "/api/v1/gateway/secured", "", nil)
	require.Equal(t, http.StatusUnauthorized, denied.Code)

	// The trial slot was handed back, so the next request reaches the
	// recovered partner and closes the circuit.
	rec = doGateway(o, http.MethodGet, "/api/v1/gateway/orders/1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, partner.requests())

	rec = doGateway(o, http.MethodGet, "/api/v1/gateway/orders/1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrchestrator_AuthenticationRequired(t *testing.T) {
	t.Parallel()

	partner := &partnerEcho{status: http.StatusOK}
	srv := httptest.NewServer(partner.handler())
	defer srv.Close()

	o := newTestOrchestrator(t, baseConfig(srv.URL))

	denied := doGateway(o, http.MethodGet, "/api/v1/gateway/secured", "", nil)
	assert.Equal(t, http.StatusUnauthorized, denied.Code)
	assert.Zero(t, partner.requests())

	allowed := doGateway(o, http.MethodGet, "/api/v1/gateway/secured", "", map[string]string{"X-API-Key": "letmein"})
	assert.Equal(t, http.StatusOK, allowed.Code)
	assert.Equal(t, 1, partner.requests())
}

func TestOrchestrator_ValidationFailure(t *testing.T) {
	t.Parallel()

	partner := &partnerEcho{status: http.StatusOK}
	srv := httptest.NewServer(partner.handler())
	defer srv.Close()

	o := newTestOrchestrator(t, baseConfig(srv.URL))

	rec := doGateway(o, http.MethodPost, "/api/v1/gateway/validated", `{"other":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeError(t, rec)
	assert.Contains(t, body.Error, "orderId")
	assert.Zero(t, partner.requests())
}

func TestOrchestrator_PartnerUnreachable(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, baseConfig("http://127.0.0.1:1"))

	rec := doGateway(o, http.MethodGet, "/api/v1/gateway/orders/1", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, http.StatusBadGateway, decodeError(t, rec).StatusCode)
}

func TestOrchestrator_UpdateConfig(t *testing.T) {
	t.Parallel()

	partner := &partnerEcho{status: http.StatusOK}
	srv := httptest.NewServer(partner.handler())
	defer srv.Close()

	cfg := baseConfig(srv.URL)
	o := newTestOrchestrator(t, cfg)

	rec := doGateway(o, http.MethodGet, "/api/v1/gateway/new-route", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	updated := baseConfig(srv.URL)
	updated.Routes = append(updated.Routes, config.Route{
		ID:          "new-route",
		Method:      "ANY",
		PathPattern: "/new-route",
		PartnerID:   "acme",
		Priority:    1,
		CreatedAt:   time.Now(),
		Enabled:     true,
	})
	o.UpdateConfig(updated)

	rec = doGateway(o, http.MethodGet, "/api/v1/gateway/new-route", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
