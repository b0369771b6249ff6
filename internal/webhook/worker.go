package webhook

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/observability"
	"github.com/wirebridge/partnergw/internal/retry"
)

// WorkerConfig configures the delivery worker.
type WorkerConfig struct {
	// PollInterval bounds how long the scheduler sleeps when nothing is
	// due. Default 5s.
	PollInterval time.Duration

	// RetryInterval is how often the scheduler re-reads open deliveries
	// from the store to pick up records it does not hold in memory.
	// Default 30s.
	RetryInterval time.Duration

	// Timeout bounds each delivery POST. Default 30s.
	Timeout time.Duration

	// Workers is the number of concurrent delivery goroutines. Default 4.
	Workers int

	// MaxRetries and BaseDelay apply to subscriptions that do not set
	// their own. A delivery makes at most MaxRetries+1 attempts.
	MaxRetries int
	BaseDelay  time.Duration

	// Backoff selects the retry delay strategy, retry.StrategyLinear or
	// retry.StrategyExponential. Default linear.
	Backoff string

	// RatePerSecond and Burst pace outbound POSTs per subscription so a
	// slow or flapping target is not hammered. Default 10/s, burst 5.
	RatePerSecond float64
	Burst         int
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:  5 * time.Second,
		RetryInterval: 30 * time.Second,
		Timeout:       30 * time.Second,
		Workers:       4,
		MaxRetries:    3,
		BaseDelay:     time.Minute,
		Backoff:       retry.StrategyLinear,
		RatePerSecond: 10,
		Burst:         5,
	}
}

func (c *WorkerConfig) applyDefaults() {
	def := DefaultWorkerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Workers < 1 {
		c.Workers = def.Workers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.Backoff == "" {
		c.Backoff = def.Backoff
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = def.RatePerSecond
	}
	if c.Burst < 1 {
		c.Burst = def.Burst
	}
}

// attemptResult is the message a delivery goroutine sends back to the
// scheduler when an attempt finishes. next is non-nil when the delivery
// must be rescheduled.
type attemptResult struct {
	id   string
	next *Delivery
}

// Worker drains persisted deliveries through a scheduled priority queue.
// A single scheduler goroutine owns the min-heap and hands due deliveries
// to a pool of delivery goroutines over channels; results flow back the
// same way, so no queue state is shared across goroutines.
type Worker struct {
	cfg    WorkerConfig
	subs   *Subscriptions
	store  Store
	client *http.Client
	logger *zap.Logger

	submitCh chan *Delivery
	tasks    chan *Delivery
	results  chan attemptResult

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	backoffs map[time.Duration]retry.Backoff

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a delivery worker. The backoff strategy name is
// validated here so a bad configuration fails at startup, not per
// delivery.
func NewWorker(cfg WorkerConfig, subs *Subscriptions, store Store, logger *zap.Logger) (*Worker, error) {
	cfg.applyDefaults()
	if _, err := retry.ForStrategy(cfg.Backoff, cfg.BaseDelay); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		cfg:      cfg,
		subs:     subs,
		store:    store,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		submitCh: make(chan *Delivery, 64),
		tasks:    make(chan *Delivery, cfg.Workers),
		results:  make(chan attemptResult, 64),
		limiters: make(map[string]*rate.Limiter),
		backoffs: make(map[time.Duration]retry.Backoff),
	}, nil
}

// Enqueue implements Enqueuer. It never blocks the caller; if the submit
// buffer is full the delivery is still persisted and the next store
// re-scan picks it up.
func (w *Worker) Enqueue(d *Delivery) {
	select {
	case w.submitCh <- d:
	default:
	}
}

// Start resumes open deliveries from the store and launches the scheduler
// and the delivery pool. It returns once everything is running.
func (w *Worker) Start(ctx context.Context) error {
	var startErr error
	w.startOnce.Do(func() {
		open, err := w.store.Open(ctx, time.Now().UTC())
		if err != nil {
			startErr = fmt.Errorf("resume webhook deliveries: %w", err)
			return
		}

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w.cancel = cancel

		for i := 0; i < w.cfg.Workers; i++ {
			w.wg.Add(1)
			go w.deliverLoop(runCtx)
		}

		w.wg.Add(1)
		go w.scheduleLoop(runCtx, open)

		w.logger.Info("webhook worker started",
			zap.Int("workers", w.cfg.Workers),
			zap.Int("resumed", len(open)),
			zap.Duration("pollInterval", w.cfg.PollInterval),
			zap.Duration("retryInterval", w.cfg.RetryInterval))
	})
	return startErr
}

// Close stops the scheduler and waits for in-flight attempts to finish.
func (w *Worker) Close() error {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
	})
	return nil
}

// scheduleLoop owns the priority queue. queued tracks delivery IDs held in
// the heap and inFlight the ones handed to the pool, so store re-scans
// never double-schedule a delivery.
func (w *Worker) scheduleLoop(ctx context.Context, resumed []*Delivery) {
	defer w.wg.Done()
	defer close(w.tasks)

	var pq deliveryHeap
	queued := make(map[string]struct{})
	inFlight := make(map[string]struct{})

	push := func(d *Delivery) {
		if _, ok := queued[d.ID]; ok {
			return
		}
		if _, ok := inFlight[d.ID]; ok {
			return
		}
		heap.Push(&pq, d)
		queued[d.ID] = struct{}{}
	}

	for _, d := range resumed {
		push(d)
	}

	rescan := time.NewTicker(w.cfg.RetryInterval)
	defer rescan.Stop()

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		// Hand out everything due. The send is non-blocking so a full
		// pool never deadlocks the result channel.
		now := time.Now().UTC()
	dispatch:
		for {
			top := pq.peek()
			if top == nil || top.NextAttemptAt.After(now) {
				break
			}
			select {
			case w.tasks <- top:
				heap.Pop(&pq)
				delete(queued, top.ID)
				inFlight[top.ID] = struct{}{}
			default:
				break dispatch
			}
		}
		observability.WebhookQueueDepth.Set(float64(pq.Len()))

		wait := w.cfg.PollInterval
		if top := pq.peek(); top != nil {
			if until := time.Until(top.NextAttemptAt); until < wait {
				wait = until
			}
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case d := <-w.submitCh:
			push(d)
		case res := <-w.results:
			delete(inFlight, res.id)
			if res.next != nil {
				push(res.next)
			}
		case <-rescan.C:
			open, err := w.store.Open(ctx, time.Now().UTC())
			if err != nil {
				w.logger.Warn("webhook store re-scan failed", zap.Error(err))
				continue
			}
			for _, d := range open {
				push(d)
			}
		case <-timer.C:
		}
	}
}

func (w *Worker) deliverLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-w.tasks:
			if !ok {
				return
			}
			next := w.attempt(ctx, d)
			select {
			case w.results <- attemptResult{id: d.ID, next: next}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// attempt makes one delivery attempt and persists the resulting status
// transition. It returns the delivery when it must be rescheduled, nil
// when it reached a terminal status.
func (w *Worker) attempt(ctx context.Context, d *Delivery) *Delivery {
	sub, ok := w.subs.Get(d.SubscriptionID)
	if !ok || !sub.Active {
		d.Status = StatusFailed
		d.LastError = "subscription missing or inactive"
		w.persist(ctx, d)
		observability.RecordWebhookTerminal(StatusFailed)
		return nil
	}

	if err := w.limiterFor(sub.ID).Wait(ctx); err != nil {
		return nil
	}

	err := w.post(ctx, &sub, d)
	if err == nil {
		observability.RecordWebhookAttempt("success")
		d.Status = StatusDelivered
		d.LastError = ""
		w.persist(ctx, d)
		observability.RecordWebhookTerminal(StatusDelivered)
		w.logger.Info("webhook delivered",
			zap.String("delivery", d.ID),
			zap.String("subscription", sub.ID),
			zap.String("event", d.EventType),
			zap.Int("retryCount", d.RetryCount))
		return nil
	}

	observability.RecordWebhookAttempt("failure")
	d.LastError = err.Error()

	maxRetries := sub.MaxRetries
	if maxRetries <= 0 {
		maxRetries = w.cfg.MaxRetries
	}
	if d.RetryCount >= maxRetries {
		d.Status = StatusFailed
		w.persist(ctx, d)
		observability.RecordWebhookTerminal(StatusFailed)
		w.logger.Warn("webhook delivery exhausted",
			zap.String("delivery", d.ID),
			zap.String("subscription", sub.ID),
			zap.String("event", d.EventType),
			zap.Int("attempts", d.RetryCount+1),
			zap.String("lastError", d.LastError))
		return nil
	}

	d.RetryCount++
	d.Status = StatusRetrying
	d.NextAttemptAt = time.Now().UTC().Add(w.backoffFor(&sub).Next(d.RetryCount))
	w.persist(ctx, d)
	w.logger.Debug("webhook delivery scheduled for retry",
		zap.String("delivery", d.ID),
		zap.String("subscription", sub.ID),
		zap.Int("retryCount", d.RetryCount),
		zap.Time("nextAttemptAt", d.NextAttemptAt),
		zap.String("error", d.LastError))
	return d
}

// post makes the signed HTTP call. A nil error means a 2xx response.
func (w *Worker) post(ctx context.Context, sub *config.WebhookSubscription, d *Delivery) error {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, sub.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(sub.Secret, d.Payload))
	req.Header.Set(HeaderEvent, d.EventType)
	req.Header.Set(HeaderDeliveryID, d.ID)
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// persist writes the delivery's current state. Store failures are logged;
// the in-memory schedule keeps going so a transient store outage does not
// stall deliveries.
func (w *Worker) persist(ctx context.Context, d *Delivery) {
	if err := w.store.UpdateDelivery(ctx, d); err != nil {
		w.logger.Error("failed to persist webhook delivery state",
			zap.String("delivery", d.ID),
			zap.String("status", d.Status),
			zap.Error(err))
	}
}

func (w *Worker) limiterFor(subscriptionID string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[subscriptionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(w.cfg.RatePerSecond), w.cfg.Burst)
		w.limiters[subscriptionID] = l
	}
	return l
}

func (w *Worker) backoffFor(sub *config.WebhookSubscription) retry.Backoff {
	base := sub.BaseDelay.Duration()
	if base <= 0 {
		base = w.cfg.BaseDelay
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.backoffs[base]
	if !ok {
		// Strategy name was validated in NewWorker.
		b, _ = retry.ForStrategy(w.cfg.Backoff, base)
		w.backoffs[base] = b
	}
	return b
}
