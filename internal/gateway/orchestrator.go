// Package gateway wires the admission chain together: route resolution,
// rate limiting, circuit breaking, the middleware pipeline, and the
// partner forwarder, exposed over a single HTTP surface.
package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/circuitbreaker"
	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/middleware"
	"github.com/wirebridge/partnergw/internal/observability"
	"github.com/wirebridge/partnergw/internal/ratelimit"
	"github.com/wirebridge/partnergw/internal/router"
	"github.com/wirebridge/partnergw/internal/util"
)

// GatewayPrefix is the inbound path prefix routed through the admission
// chain.
const GatewayPrefix = "/api/v1/gateway"

const maxRequestBytes = 10 << 20

// Orchestrator runs every gateway request through the admission chain
// and relays the partner response.
type Orchestrator struct {
	cfg       atomic.Pointer[config.Config]
	resolver  *router.Resolver
	limits    *ratelimit.Registry
	breakers  *circuitbreaker.Registry
	forwarder *Forwarder
	logger    *zap.Logger

	mu        sync.Mutex
	pipelines map[string]*middleware.Pipeline
}

// NewOrchestrator creates the orchestrator and applies the initial
// configuration.
func NewOrchestrator(cfg *config.Config, resolver *router.Resolver, limits *ratelimit.Registry, breakers *circuitbreaker.Registry, forwarder *Forwarder, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		resolver:  resolver,
		limits:    limits,
		breakers:  breakers,
		forwarder: forwarder,
		logger:    logger,
		pipelines: make(map[string]*middleware.Pipeline),
	}
	o.UpdateConfig(cfg)
	return o
}

// UpdateConfig swaps in a new configuration snapshot: the route table is
// reloaded, breaker overrides reapplied, and cached limiters and
// pipelines invalidated. In-flight requests finish against the snapshot
// they started with.
func (o *Orchestrator) UpdateConfig(cfg *config.Config) {
	o.cfg.Store(cfg)
	o.resolver.Reload(cfg.Routes)
	for _, rule := range cfg.CircuitBreakers {
		o.breakers.SetOverride(rule.PartnerID, circuitbreaker.Config{
			FailureThreshold: rule.FailureThreshold,
			OpenTimeout:      rule.OpenTimeout.Duration(),
		})
	}
	o.limits.Invalidate()

	o.mu.Lock()
	o.pipelines = make(map[string]*middleware.Pipeline)
	o.mu.Unlock()
}

// ServeHTTP implements the gateway surface for ANY method under
// GatewayPrefix.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	path := strings.TrimPrefix(r.URL.Path, GatewayPrefix)
	if path == "" {
		path = "/"
	}

	match, err := o.resolver.Resolve(r.Method, path)
	if err != nil {
		o.writeFailure(w, "unmatched", "", start, err, 0)
		return
	}
	route := match.Route
	cfg := o.cfg.Load()

	partner, ok := cfg.Partner(route.PartnerID)
	if !ok {
		o.logger.Error("route references unknown partner",
			zap.String("route", route.ID),
			zap.String("partner", route.PartnerID))
		o.writeFailure(w, route.ID, route.PartnerID, start, errors.New("partner not configured"), 0)
		return
	}

	identifier := util.ClientIP(r)

	if route.RateLimitRuleID != "" {
		if rule, ok := cfg.RateLimitRule(route.RateLimitRuleID); ok {
			decision := o.limits.Check(r.Context(), *rule, identifier)
			if !decision.Allowed {
				o.writeFailure(w, route.ID, route.PartnerID, start, util.ErrRateLimitExceeded, decision.RetryAfter)
				return
			}
		} else {
			o.logger.Warn("route references unknown rate limit rule, admission not limited",
				zap.String("route", route.ID),
				zap.String("rule", route.RateLimitRuleID))
		}
	}

	admit := o.breakers.Admit(route.PartnerID)
	if !admit.Allowed {
		o.writeFailure(w, route.ID, route.PartnerID, start, util.ErrCircuitOpen, admit.RetryAfter)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		o.breakers.CancelTrial(route.PartnerID)
		o.writeFailure(w, route.ID, route.PartnerID, start, errors.New("failed to read request body"), 0)
		return
	}

	pipe, err := o.pipelineFor(&route)
	if err != nil {
		o.logger.Error("failed to build middleware pipeline",
			zap.String("route", route.ID),
			zap.Error(err))
		o.breakers.CancelTrial(route.PartnerID)
		o.writeFailure(w, route.ID, route.PartnerID, start, errors.New("invalid route configuration"), 0)
		return
	}

	ex := &middleware.Exchange{
		Request: r,
		Route:   route,
		Params:  match.Params,
		Body:    body,
	}
	if err := pipe.Run(r.Context(), ex); err != nil {
		// The rejected request never reached the partner, so an admitted
		// half-open trial is handed back rather than counted.
		o.breakers.CancelTrial(route.PartnerID)
		o.writeFailure(w, route.ID, route.PartnerID, start, err, 0)
		return
	}

	resp, err := o.forwarder.Forward(r.Context(), partner, r, ex.Body, path)
	if err != nil {
		o.breakers.RecordFailure(route.PartnerID)
		o.writeFailure(w, route.ID, route.PartnerID, start, err, 0)
		return
	}

	if resp.StatusCode >= 500 {
		o.breakers.RecordFailure(route.PartnerID)
	} else {
		o.breakers.RecordSuccess(route.PartnerID)
	}

	for k, vv := range resp.Header {
		w.Header()[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)

	observability.RecordGatewayRequest(route.ID, route.PartnerID, strconv.Itoa(resp.StatusCode), time.Since(start))
}

func (o *Orchestrator) pipelineFor(route *config.Route) (*middleware.Pipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if p, ok := o.pipelines[route.ID]; ok {
		return p, nil
	}
	p, err := middleware.Build(route.Middleware, o.logger)
	if err != nil {
		return nil, err
	}
	o.pipelines[route.ID] = p
	return p, nil
}

// writeFailure translates an error to the JSON envelope and records the
// request metric. retryAfter overrides any hint carried by the error.
func (o *Orchestrator) writeFailure(w http.ResponseWriter, routeID, partnerID string, start time.Time, err error, retryAfter time.Duration) {
	status := util.StatusFor(err)

	var ge *util.GatewayError
	if retryAfter == 0 && errors.As(err, &ge) {
		retryAfter = ge.RetryAfter
	}

	util.WriteError(w, status, failureMessage(status, err), retryAfter)
	observability.RecordGatewayRequest(routeID, partnerID, strconv.Itoa(status), time.Since(start))
}

// failureMessage picks the client-facing error text. Validation failures
// carry their field details; everything else gets a fixed phrase so
// internal errors never leak.
func failureMessage(status int, err error) string {
	var ve *util.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}

	switch status {
	case http.StatusNotFound:
		return "route not found"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusServiceUnavailable:
		return "partner temporarily unavailable"
	case http.StatusUnauthorized:
		return "authentication failed"
	case http.StatusForbidden:
		return "authorization failed"
	case http.StatusBadRequest:
		return "validation failed"
	case http.StatusBadGateway:
		return "partner unreachable"
	default:
		return "internal server error"
	}
}
