package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/health"
	"github.com/wirebridge/partnergw/internal/middleware"
	"github.com/wirebridge/partnergw/internal/util"
	"github.com/wirebridge/partnergw/internal/webhook"
)

// Server is the gateway's HTTP front: the admission-chained gateway
// prefix, webhook management, health probes, and metrics.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// ServerDeps are the collaborators the HTTP surface exposes.
type ServerDeps struct {
	Orchestrator  *Orchestrator
	Subscriptions *webhook.Subscriptions
	Deliveries    webhook.Store
	Dispatcher    *webhook.Dispatcher
	Health        *health.Checker
}

// NewServer builds the HTTP server and its routing table.
func NewServer(cfg *config.Config, deps ServerDeps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle(GatewayPrefix+"/", deps.Orchestrator)
	mux.HandleFunc("POST /webhooks", createSubscriptionHandler(deps.Subscriptions, logger))
	mux.HandleFunc("GET /webhooks", listSubscriptionsHandler(deps.Subscriptions))
	mux.HandleFunc("GET /webhooks/{id}/deliveries", listDeliveriesHandler(deps.Subscriptions, deps.Deliveries))
	mux.HandleFunc("POST /internal/v1/events", triggerEventHandler(deps.Dispatcher, logger))
	mux.HandleFunc("GET /healthz", deps.Health.HealthHandler())
	mux.HandleFunc("GET /readyz", deps.Health.ReadinessHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := middleware.RequestID(middleware.Recovery(logger)(middleware.AccessLog(logger)(mux)))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout.Duration(),
			WriteTimeout: cfg.WriteTimeout.Duration(),
			IdleTimeout:  cfg.IdleTimeout.Duration(),
		},
		logger: logger,
	}
}

// Start begins serving. It blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the composed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// createSubscriptionRequest is the POST /webhooks body.
type createSubscriptionRequest struct {
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Events     []string          `json:"events"`
	Secret     string            `json:"secret"`
	Headers    map[string]string `json:"headers"`
	MaxRetries int               `json:"maxRetries"`
	BaseDelay  string            `json:"baseDelay"`
}

// subscriptionResponse mirrors the stored subscription without the
// signing secret.
type subscriptionResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Events     []string          `json:"events"`
	Headers    map[string]string `json:"headers,omitempty"`
	MaxRetries int               `json:"maxRetries,omitempty"`
	Active     bool              `json:"active"`
}

func toSubscriptionResponse(sub config.WebhookSubscription) subscriptionResponse {
	return subscriptionResponse{
		ID:         sub.ID,
		Name:       sub.Name,
		URL:        sub.URL,
		Events:     sub.Events,
		Headers:    sub.Headers,
		MaxRetries: sub.MaxRetries,
		Active:     sub.Active,
	}
}

func createSubscriptionHandler(subs *webhook.Subscriptions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			util.WriteError(w, http.StatusBadRequest, "invalid request body", 0)
			return
		}

		sub := config.WebhookSubscription{
			Name:       req.Name,
			URL:        req.URL,
			Secret:     req.Secret,
			Events:     req.Events,
			Headers:    req.Headers,
			MaxRetries: req.MaxRetries,
			Active:     true,
		}
		if req.BaseDelay != "" {
			d, err := time.ParseDuration(req.BaseDelay)
			if err != nil {
				util.WriteError(w, http.StatusBadRequest, "invalid baseDelay", 0)
				return
			}
			sub.BaseDelay = config.Duration(d)
		}

		created, err := subs.Add(sub)
		if err != nil {
			util.WriteError(w, http.StatusBadRequest, err.Error(), 0)
			return
		}

		logger.Info("webhook subscription created",
			zap.String("subscription", created.ID),
			zap.String("url", created.URL),
			zap.Strings("events", created.Events))

		writeJSON(w, http.StatusCreated, toSubscriptionResponse(created))
	}
}

func listSubscriptionsHandler(subs *webhook.Subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := subs.All()
		out := make([]subscriptionResponse, 0, len(all))
		for _, sub := range all {
			out = append(out, toSubscriptionResponse(sub))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listDeliveriesHandler(subs *webhook.Subscriptions, store webhook.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := subs.Get(id); !ok {
			util.WriteError(w, http.StatusNotFound, "webhook subscription not found", 0)
			return
		}

		deliveries, err := store.ListBySubscription(r.Context(), id)
		if err != nil {
			util.WriteError(w, http.StatusInternalServerError, "failed to load deliveries", 0)
			return
		}
		if deliveries == nil {
			deliveries = []*webhook.Delivery{}
		}
		writeJSON(w, http.StatusOK, deliveries)
	}
}

// triggerEventRequest is the POST /internal/v1/events body.
type triggerEventRequest struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Source string          `json:"source"`
}

func triggerEventHandler(dispatcher *webhook.Dispatcher, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triggerEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			util.WriteError(w, http.StatusBadRequest, "invalid request body", 0)
			return
		}
		if req.Event == "" {
			util.WriteError(w, http.StatusBadRequest, "event is required", 0)
			return
		}

		if err := dispatcher.Trigger(r.Context(), req.Event, req.Data, req.Source); err != nil {
			logger.Error("event trigger failed", zap.String("event", req.Event), zap.Error(err))
			util.WriteError(w, http.StatusInternalServerError, "failed to trigger event", 0)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(util.HeaderContentType, util.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
