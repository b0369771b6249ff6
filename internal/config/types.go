package config

import (
	"fmt"
	"strings"
	"time"
)

// Rate limiting algorithm names accepted in configuration.
const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"
	AlgorithmLeakyBucket   = "leaky_bucket"
)

// Middleware step type names accepted in configuration.
const (
	MiddlewareAuthentication = "authentication"
	MiddlewareAuthorization  = "authorization"
	MiddlewareValidation     = "validation"
	MiddlewareTransformation = "transformation"
	MiddlewareLogging        = "logging"
)

// Credential injection schemes for partner calls.
const (
	CredentialBearer = "bearer"
	CredentialAPIKey = "api_key"
	CredentialBasic  = "basic"
	CredentialNone   = "none"
)

// Route binds a (method, path pattern) to a partner and its admission and
// middleware configuration. Routes are read-only to the request path; only
// configuration reloads replace them.
type Route struct {
	ID               string             `yaml:"id"`
	Method           string             `yaml:"method"`
	PathPattern      string             `yaml:"pathPattern"`
	PartnerID        string             `yaml:"partnerId"`
	RateLimitRuleID  string             `yaml:"rateLimitRuleId"`
	CircuitBreakerID string             `yaml:"circuitBreakerId"`
	Middleware       []MiddlewareConfig `yaml:"middleware"`
	Priority         int                `yaml:"priority"`
	CreatedAt        time.Time          `yaml:"createdAt"`
	Enabled          bool               `yaml:"enabled"`
}

// Validate checks the route configuration.
func (r *Route) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("route: id is required")
	}
	if r.Method == "" {
		return fmt.Errorf("route %s: method is required", r.ID)
	}
	if !strings.HasPrefix(r.PathPattern, "/") {
		return fmt.Errorf("route %s: pathPattern must start with /", r.ID)
	}
	if r.PartnerID == "" {
		return fmt.Errorf("route %s: partnerId is required", r.ID)
	}
	for i := range r.Middleware {
		if err := r.Middleware[i].Validate(); err != nil {
			return fmt.Errorf("route %s: %w", r.ID, err)
		}
	}
	return nil
}

// Partner describes an upstream partner API. The gateway only reads it.
type Partner struct {
	ID         string            `yaml:"id"`
	BaseURL    string            `yaml:"baseUrl"`
	Credential PartnerCredential `yaml:"credential"`
	Timeout    Duration          `yaml:"timeout"`
	Headers    map[string]string `yaml:"headers"`
}

// PartnerCredential describes how to authenticate outbound calls to the
// partner. Secret material arrives already decrypted from the configuration
// collaborator.
type PartnerCredential struct {
	Type   string `yaml:"type"`   // bearer, api_key, basic, none
	Header string `yaml:"header"` // header name for api_key (default X-API-Key)
	Value  string `yaml:"value"`  // token, key, or user:pass for basic
}

// Validate checks the partner configuration.
func (p *Partner) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("partner: id is required")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("partner %s: baseUrl is required", p.ID)
	}
	switch p.Credential.Type {
	case CredentialBearer, CredentialAPIKey, CredentialBasic, CredentialNone, "":
	default:
		return fmt.Errorf("partner %s: unknown credential type %q", p.ID, p.Credential.Type)
	}
	return nil
}

// RateLimitRule configures one of the four throttling algorithms for a
// partner endpoint.
type RateLimitRule struct {
	ID        string   `yaml:"id"`
	PartnerID string   `yaml:"partnerId"`
	Endpoint  string   `yaml:"endpoint"`
	Algorithm string   `yaml:"algorithm"`
	Limit     int      `yaml:"limit"`
	Window    Duration `yaml:"window"`
	Burst     int      `yaml:"burst"`
}

// Validate checks the rate limit rule configuration.
func (r *RateLimitRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rateLimitRule: id is required")
	}
	switch r.Algorithm {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmTokenBucket, AlgorithmLeakyBucket:
	default:
		return fmt.Errorf("rateLimitRule %s: unknown algorithm %q", r.ID, r.Algorithm)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("rateLimitRule %s: limit must be positive", r.ID)
	}
	if r.Window.Duration() <= 0 {
		return fmt.Errorf("rateLimitRule %s: window must be positive", r.ID)
	}
	return nil
}

// CircuitBreakerRule overrides breaker thresholds for a partner.
type CircuitBreakerRule struct {
	ID               string   `yaml:"id"`
	PartnerID        string   `yaml:"partnerId"`
	FailureThreshold int      `yaml:"failureThreshold"`
	OpenTimeout      Duration `yaml:"openTimeout"`
}

// MiddlewareConfig is a tagged variant: Type selects which of the typed
// configurations applies. Exactly one step kind per entry.
type MiddlewareConfig struct {
	Type       string            `yaml:"type"`
	Auth       *AuthConfig       `yaml:"auth,omitempty"`
	Authz      *AuthzConfig      `yaml:"authz,omitempty"`
	Validation *ValidationConfig `yaml:"validation,omitempty"`
	Transform  *TransformConfig  `yaml:"transform,omitempty"`
	Logging    *LogStepConfig    `yaml:"logging,omitempty"`
}

// Validate checks the middleware configuration.
func (m *MiddlewareConfig) Validate() error {
	switch m.Type {
	case MiddlewareAuthentication:
		if m.Auth == nil {
			return fmt.Errorf("middleware authentication: auth block is required")
		}
	case MiddlewareAuthorization:
		if m.Authz == nil {
			return fmt.Errorf("middleware authorization: authz block is required")
		}
	case MiddlewareValidation:
		if m.Validation == nil {
			return fmt.Errorf("middleware validation: validation block is required")
		}
	case MiddlewareTransformation:
		if m.Transform == nil {
			return fmt.Errorf("middleware transformation: transform block is required")
		}
	case MiddlewareLogging:
	default:
		return fmt.Errorf("middleware: unknown type %q", m.Type)
	}
	return nil
}

// AuthConfig configures the authentication step.
type AuthConfig struct {
	// Scheme is bearer, api_key, or basic.
	Scheme string `yaml:"scheme"`

	// JWTSecret is the shared HMAC secret for bearer token verification.
	JWTSecret string `yaml:"jwtSecret"`

	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string `yaml:"jwtIssuer"`

	// APIKeyHeader is the header carrying the API key (default X-API-Key).
	APIKeyHeader string `yaml:"apiKeyHeader"`

	// Keys maps key IDs to stored hashes for api_key scheme.
	Keys []APIKey `yaml:"keys"`

	// Users holds basic auth users.
	Users []BasicUser `yaml:"users"`
}

// APIKey is a configured API key with its stored hash.
type APIKey struct {
	ID          string   `yaml:"id"`
	Hash        string   `yaml:"hash"`
	HashAlg     string   `yaml:"hashAlg"` // bcrypt, sha256, plaintext
	Roles       []string `yaml:"roles"`
	Permissions []string `yaml:"permissions"`
}

// BasicUser is a configured basic auth user.
type BasicUser struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"passwordHash"` // bcrypt
	Roles        []string `yaml:"roles"`
	Permissions  []string `yaml:"permissions"`
}

// AuthzConfig configures the authorization step.
type AuthzConfig struct {
	RequiredRoles       []string `yaml:"requiredRoles"`
	RequiredPermissions []string `yaml:"requiredPermissions"`
}

// ValidationConfig configures the request body validation step.
type ValidationConfig struct {
	RequiredFields []string             `yaml:"requiredFields"`
	Fields         map[string]FieldRule `yaml:"fields"`
	MaxBodyBytes   int64                `yaml:"maxBodyBytes"`
}

// FieldRule constrains a single JSON body field.
type FieldRule struct {
	Type      string  `yaml:"type"` // string, number, boolean, object, array
	MinLength int     `yaml:"minLength"`
	MaxLength int     `yaml:"maxLength"`
	Pattern   string  `yaml:"pattern"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
}

// TransformConfig configures the request body transformation step.
type TransformConfig struct {
	Operations []TransformOp `yaml:"operations"`
}

// TransformOp is a single body mutation.
type TransformOp struct {
	Op    string `yaml:"op"`   // add, remove, replace, transform
	Field string `yaml:"field"`
	Value any    `yaml:"value,omitempty"`
	Fn    string `yaml:"fn,omitempty"` // uppercase, lowercase, trim
}

// LogStepConfig configures the logging step.
type LogStepConfig struct {
	Fields []string `yaml:"fields"` // method, path, identifier, route, partner
}

// WebhookSubscription registers an outbound notification target.
type WebhookSubscription struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url"`
	Secret     string            `yaml:"secret"`
	Events     []string          `yaml:"events"`
	Headers    map[string]string `yaml:"headers"`
	MaxRetries int               `yaml:"maxRetries"`
	BaseDelay  Duration          `yaml:"baseDelay"`
	Active     bool              `yaml:"active"`
}

// Validate checks the subscription configuration.
func (s *WebhookSubscription) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("webhookSubscription: id is required")
	}
	if s.URL == "" {
		return fmt.Errorf("webhookSubscription %s: url is required", s.ID)
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("webhookSubscription %s: at least one event is required", s.ID)
	}
	return nil
}
