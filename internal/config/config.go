// Package config provides configuration management for the partner gateway.
// Configuration is loaded from a YAML file with environment variable
// overrides; route, partner, rule, and subscription tables are owned by the
// external configuration collaborator and treated as read-only here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all settings for the gateway process.
type Config struct {
	// Server settings
	HTTPPort        int      `yaml:"httpPort"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// Logging
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	LogOutput string `yaml:"logOutput"`

	// Counter store
	StoreType     string `yaml:"storeType"` // memory, redis
	RedisAddress  string `yaml:"redisAddress"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisPrefix   string `yaml:"redisPrefix"`

	// Circuit breaker defaults (per-partner overrides in CircuitBreakers)
	BreakerFailureThreshold int      `yaml:"breakerFailureThreshold"`
	BreakerOpenTimeout      Duration `yaml:"breakerOpenTimeout"`

	// Webhook delivery
	WebhookStoreDSN      string   `yaml:"webhookStoreDsn"` // postgres DSN, empty = in-memory
	WebhookPollInterval  Duration `yaml:"webhookPollInterval"`
	WebhookRetryInterval Duration `yaml:"webhookRetryInterval"`
	WebhookTimeout       Duration `yaml:"webhookTimeout"`
	WebhookWorkers       int      `yaml:"webhookWorkers"`
	WebhookMaxRetries    int      `yaml:"webhookMaxRetries"`
	WebhookBaseDelay     Duration `yaml:"webhookBaseDelay"`
	WebhookBackoff       string   `yaml:"webhookBackoff"` // linear, exponential

	// Routing tables (hand-off from the configuration collaborator)
	Routes          []Route               `yaml:"routes"`
	Partners        []Partner             `yaml:"partners"`
	RateLimitRules  []RateLimitRule       `yaml:"rateLimitRules"`
	CircuitBreakers []CircuitBreakerRule  `yaml:"circuitBreakers"`
	Subscriptions   []WebhookSubscription `yaml:"webhookSubscriptions"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		HTTPPort:        8080,
		ReadTimeout:     Duration(30 * time.Second),
		WriteTimeout:    Duration(30 * time.Second),
		IdleTimeout:     Duration(120 * time.Second),
		ShutdownTimeout: Duration(30 * time.Second),

		LogLevel:  "info",
		LogFormat: "json",
		LogOutput: "stdout",

		StoreType:   "memory",
		RedisPrefix: "partnergw:",

		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      Duration(60 * time.Second),

		WebhookPollInterval:  Duration(5 * time.Second),
		WebhookRetryInterval: Duration(30 * time.Second),
		WebhookTimeout:       Duration(30 * time.Second),
		WebhookWorkers:       4,
		WebhookMaxRetries:    3,
		WebhookBaseDelay:     Duration(time.Minute),
		WebhookBackoff:       "linear",
	}
}

// Validate checks the configuration and fills invalid values with defaults.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("httpPort must be in (0, 65535], got %d", c.HTTPPort)
	}
	switch c.StoreType {
	case "memory", "redis":
	default:
		return fmt.Errorf("storeType must be memory or redis, got %q", c.StoreType)
	}
	if c.StoreType == "redis" && c.RedisAddress == "" {
		return fmt.Errorf("redisAddress is required when storeType is redis")
	}
	switch c.WebhookBackoff {
	case "linear", "exponential":
	default:
		return fmt.Errorf("webhookBackoff must be linear or exponential, got %q", c.WebhookBackoff)
	}

	if c.BreakerFailureThreshold < 1 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerOpenTimeout.Duration() < time.Millisecond {
		c.BreakerOpenTimeout = Duration(60 * time.Second)
	}
	if c.WebhookWorkers < 1 {
		c.WebhookWorkers = 4
	}
	if c.WebhookPollInterval.Duration() <= 0 {
		c.WebhookPollInterval = Duration(5 * time.Second)
	}
	if c.WebhookRetryInterval.Duration() <= 0 {
		c.WebhookRetryInterval = Duration(30 * time.Second)
	}
	if c.WebhookTimeout.Duration() <= 0 {
		c.WebhookTimeout = Duration(30 * time.Second)
	}

	partners := make(map[string]struct{}, len(c.Partners))
	for i := range c.Partners {
		if err := c.Partners[i].Validate(); err != nil {
			return err
		}
		partners[c.Partners[i].ID] = struct{}{}
	}

	rules := make(map[string]struct{}, len(c.RateLimitRules))
	for i := range c.RateLimitRules {
		if err := c.RateLimitRules[i].Validate(); err != nil {
			return err
		}
		rules[c.RateLimitRules[i].ID] = struct{}{}
	}

	breakers := make(map[string]struct{}, len(c.CircuitBreakers))
	for i := range c.CircuitBreakers {
		breakers[c.CircuitBreakers[i].ID] = struct{}{}
	}

	// Active routes may only reference tables that exist, and no two may
	// tie on (method, exact pattern).
	seen := make(map[string]string, len(c.Routes))
	for i := range c.Routes {
		r := &c.Routes[i]
		if err := r.Validate(); err != nil {
			return err
		}
		if !r.Enabled {
			continue
		}
		if _, ok := partners[r.PartnerID]; !ok {
			return fmt.Errorf("route %s: unknown partner %q", r.ID, r.PartnerID)
		}
		if r.RateLimitRuleID != "" {
			if _, ok := rules[r.RateLimitRuleID]; !ok {
				return fmt.Errorf("route %s: unknown rate limit rule %q", r.ID, r.RateLimitRuleID)
			}
		}
		if r.CircuitBreakerID != "" {
			if _, ok := breakers[r.CircuitBreakerID]; !ok {
				return fmt.Errorf("route %s: unknown circuit breaker rule %q", r.ID, r.CircuitBreakerID)
			}
		}
		key := r.Method + " " + r.PathPattern
		if other, dup := seen[key]; dup {
			return fmt.Errorf("routes %s and %s duplicate (method, pattern) %q", other, r.ID, key)
		}
		seen[key] = r.ID
	}
	for i := range c.Subscriptions {
		if err := c.Subscriptions[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Partner returns the partner with the given ID.
func (c *Config) Partner(id string) (*Partner, bool) {
	for i := range c.Partners {
		if c.Partners[i].ID == id {
			return &c.Partners[i], true
		}
	}
	return nil, false
}

// RateLimitRule returns the rule with the given ID.
func (c *Config) RateLimitRule(id string) (*RateLimitRule, bool) {
	for i := range c.RateLimitRules {
		if c.RateLimitRules[i].ID == id {
			return &c.RateLimitRules[i], true
		}
	}
	return nil, false
}

// CircuitBreakerRule returns the breaker override with the given ID.
func (c *Config) CircuitBreakerRule(id string) (*CircuitBreakerRule, bool) {
	for i := range c.CircuitBreakers {
		if c.CircuitBreakers[i].ID == id {
			return &c.CircuitBreakers[i], true
		}
	}
	return nil, false
}

// applyEnvOverrides applies environment variable overrides. Environment
// variables take precedence over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GATEWAY_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GATEWAY_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("GATEWAY_STORE_TYPE"); v != "" {
		c.StoreType = v
	}
	if v := os.Getenv("GATEWAY_REDIS_ADDRESS"); v != "" {
		c.RedisAddress = v
	}
	if v := os.Getenv("GATEWAY_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("GATEWAY_WEBHOOK_STORE_DSN"); v != "" {
		c.WebhookStoreDSN = v
	}
}
