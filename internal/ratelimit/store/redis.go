package store

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	counterStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counter_store_operations_total",
			Help: "Total number of counter store operations against Redis",
		},
		[]string{"operation", "status"},
	)

	counterStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "counter_store_operation_duration_seconds",
			Help:    "Duration of counter store operations against Redis",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	counterStoreConnectRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counter_store_connect_retries_total",
			Help: "Total number of Redis connection retry attempts",
		},
	)
)

// incrementWithExpiryScript atomically increments a counter and arms its
// TTL only when this call created the key, so an existing window keeps
// its original deadline.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// tokenBucketScript refills and drains a token bucket in one atomic
// step. State is a hash {tokens_mb, updated_ms}; tokens are stored in
// millitokens to keep fractional refill without floats on the wire.
// Returns: allowed (0/1), remaining millitokens, retry-after ms.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local now_ms = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])
	local ttl_s = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens_mb', 'updated_ms')
	local tokens = tonumber(state[1])
	local updated = tonumber(state[2])

	if tokens == nil then
		tokens = capacity * 1000
		updated = now_ms
	end

	local elapsed_s = (now_ms - updated) / 1000.0
	tokens = math.min(capacity * 1000, tokens + elapsed_s * rate * 1000)

	local allowed = 0
	local retry_ms = 0
	if tokens >= requested * 1000 then
		tokens = tokens - requested * 1000
		allowed = 1
	else
		retry_ms = math.ceil((requested * 1000 - tokens) / rate)
	end

	redis.call('HMSET', key, 'tokens_mb', tokens, 'updated_ms', now_ms)
	redis.call('EXPIRE', key, ttl_s)

	return {allowed, math.floor(tokens), retry_ms}
`)

// leakyBucketScript leaks and fills a leaky bucket in one atomic step.
// State is a hash {level_ml, updated_ms}; the level is stored in
// millirequests. Returns: allowed (0/1), level millirequests, retry-after ms.
var leakyBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local leak_rate = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local now_ms = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])
	local ttl_s = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'level_ml', 'updated_ms')
	local level = tonumber(state[1])
	local updated = tonumber(state[2])

	if level == nil then
		level = 0
		updated = now_ms
	end

	local elapsed_s = (now_ms - updated) / 1000.0
	level = math.max(0, level - elapsed_s * leak_rate * 1000)

	local allowed = 0
	local retry_ms = 0
	if level + requested * 1000 <= capacity * 1000 then
		level = level + requested * 1000
		allowed = 1
	else
		retry_ms = math.ceil((level + requested * 1000 - capacity * 1000) / leak_rate)
	end

	redis.call('HMSET', key, 'level_ml', level, 'updated_ms', now_ms)
	redis.call('EXPIRE', key, ttl_s)

	return {allowed, math.floor(level), retry_ms}
`)

// RedisStore implements Store using Redis. All mutating operations are
// single commands or Lua scripts, so counters stay consistent across
// gateway instances sharing the same Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// RedisConfig holds configuration for the Redis counter store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectRetries is the number of additional connection attempts
	// made at startup before giving up.
	ConnectRetries int

	Logger *zap.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:        "localhost:6379",
		Prefix:         "partnergw:",
		PoolSize:       10,
		MinIdleConns:   2,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		ConnectRetries: 5,
	}
}

// NewRedisStore creates a Redis store and verifies connectivity,
// retrying with jittered exponential backoff so a fleet restarting
// against a recovering Redis does not stampede it.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	retries := cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		lastErr = client.Ping(ctx).Err()
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				logger.Info("redis connection established",
					zap.String("address", cfg.Address),
					zap.Int("attempt", attempt+1),
				)
			}
			return &RedisStore{client: client, prefix: cfg.Prefix, logger: logger}, nil
		}

		if attempt == retries {
			break
		}

		counterStoreConnectRetries.Inc()
		//nolint:gosec // weak random is fine for backoff jitter
		wait := backoff + time.Duration(rand.Int63n(int64(backoff)))
		logger.Debug("redis connection failed, retrying",
			zap.String("address", cfg.Address),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		time.Sleep(wait)

		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("connect to redis %s after %d attempts: %w", cfg.Address, retries+1, lastErr)
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	val, err := s.client.Get(ctx, s.prefixKey(key)).Result()

	counterStoreOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		counterStoreOperationsTotal.WithLabelValues("get", "not_found").Inc()
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("redis get: %w", err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("parse counter value: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("get", "success").Inc()
	return n, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	start := time.Now()

	err := s.client.Set(ctx, s.prefixKey(key), value, expiration).Err()

	counterStoreOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()

	val, err := s.client.IncrBy(ctx, s.prefixKey(key), delta).Result()

	counterStoreOperationDuration.WithLabelValues("increment").Observe(time.Since(start).Seconds())

	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("increment", "error").Inc()
		return 0, fmt.Errorf("redis incrby: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("increment", "success").Inc()
	return val, nil
}

// IncrementWithExpiry implements Store using a Lua script for atomicity.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	start := time.Now()

	expirationSecs := int64(expiration.Seconds())
	if expirationSecs < 1 {
		expirationSecs = 1
	}

	result, err := incrementWithExpiryScript.Run(
		ctx, s.client, []string{s.prefixKey(key)}, delta, expirationSecs,
	).Result()

	counterStoreOperationDuration.WithLabelValues("increment_with_expiry").Observe(time.Since(start).Seconds())

	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis increment script: %w", err)
	}

	val, ok := result.(int64)
	if !ok {
		counterStoreOperationsTotal.WithLabelValues("increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis increment script returned %T", result)
	}

	counterStoreOperationsTotal.WithLabelValues("increment_with_expiry", "success").Inc()
	return val, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := s.client.Del(ctx, s.prefixKey(key)).Err()

	counterStoreOperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// Close implements Store. Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// BucketResult is the outcome of an atomic bucket evaluation.
type BucketResult struct {
	Allowed    bool
	Value      float64
	RetryAfter time.Duration
}

// TokenBucket atomically refills the bucket at rate tokens/second up to
// capacity and consumes n tokens if available. Value in the result is
// the remaining token count.
func (s *RedisStore) TokenBucket(
	ctx context.Context,
	key string,
	rate float64,
	capacity int,
	n int,
	ttl time.Duration,
) (*BucketResult, error) {
	return s.runBucketScript(ctx, tokenBucketScript, "token_bucket", key, rate, capacity, n, ttl)
}

// LeakyBucket atomically leaks the bucket at rate requests/second and
// adds n requests if the level stays within capacity. Value in the
// result is the bucket level after the call.
func (s *RedisStore) LeakyBucket(
	ctx context.Context,
	key string,
	rate float64,
	capacity int,
	n int,
	ttl time.Duration,
) (*BucketResult, error) {
	return s.runBucketScript(ctx, leakyBucketScript, "leaky_bucket", key, rate, capacity, n, ttl)
}

func (s *RedisStore) runBucketScript(
	ctx context.Context,
	script *redis.Script,
	op string,
	key string,
	rate float64,
	capacity int,
	n int,
	ttl time.Duration,
) (*BucketResult, error) {
	start := time.Now()

	ttlSecs := int64(ttl.Seconds())
	if ttlSecs < 1 {
		ttlSecs = 1
	}

	result, err := script.Run(
		ctx, s.client, []string{s.prefixKey(key)},
		rate, capacity, time.Now().UnixMilli(), n, ttlSecs,
	).Result()

	counterStoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		counterStoreOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("redis %s script: %w", op, err)
	}

	vals, ok := result.([]interface{})
	if !ok || len(vals) != 3 {
		counterStoreOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("redis %s script returned %T", op, result)
	}

	allowed, _ := vals[0].(int64)
	milli, _ := vals[1].(int64)
	retryMs, _ := vals[2].(int64)

	counterStoreOperationsTotal.WithLabelValues(op, "success").Inc()
	return &BucketResult{
		Allowed:    allowed == 1,
		Value:      float64(milli) / 1000.0,
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}
