package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry holds one breaker per partner, created lazily on first
// admission. Breaker state lives for the process lifetime; sharing it
// across instances would require an external store.
type Registry struct {
	breakers sync.Map
	defaults Config
	logger   *zap.Logger

	mu        sync.RWMutex
	overrides map[string]Config
}

// NewRegistry creates a breaker registry. Partners without an override
// get the default thresholds.
func NewRegistry(defaults Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults.applyDefaults()

	return &Registry{
		defaults:  defaults,
		logger:    logger,
		overrides: make(map[string]Config),
	}
}

// SetOverride installs partner-specific thresholds used when that
// partner's breaker is created.
func (r *Registry) SetOverride(partnerID string, config Config) {
	config.applyDefaults()
	r.mu.Lock()
	r.overrides[partnerID] = config
	r.mu.Unlock()
}

// ForPartner returns the breaker for partnerID, creating it on first
// use.
func (r *Registry) ForPartner(partnerID string) *Breaker {
	if v, ok := r.breakers.Load(partnerID); ok {
		return v.(*Breaker)
	}

	r.mu.RLock()
	cfg, ok := r.overrides[partnerID]
	r.mu.RUnlock()
	if !ok {
		cfg = r.defaults
	}

	b := New(partnerID, cfg, r.logger)
	actual, loaded := r.breakers.LoadOrStore(partnerID, b)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("created partner breaker", zap.String("partner", partnerID))
	return b
}

// Admit runs the admission check for partnerID.
func (r *Registry) Admit(partnerID string) Decision {
	return r.ForPartner(partnerID).Admit()
}

// RecordSuccess records a successful call to partnerID.
func (r *Registry) RecordSuccess(partnerID string) {
	r.ForPartner(partnerID).RecordSuccess()
}

// CancelTrial releases partnerID's half-open trial slot without
// recording an outcome.
func (r *Registry) CancelTrial(partnerID string) {
	r.ForPartner(partnerID).CancelTrial()
}

// RecordFailure records a failed call to partnerID.
func (r *Registry) RecordFailure(partnerID string) {
	r.ForPartner(partnerID).RecordFailure()
}

// Snapshots returns the current state of every breaker.
func (r *Registry) Snapshots() []Snapshot {
	var out []Snapshot
	r.breakers.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Breaker).Snapshot())
		return true
	})
	return out
}

// ResetAll forces every breaker back to closed.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_, v interface{}) bool {
		v.(*Breaker).Reset()
		return true
	})
	r.logger.Info("reset all partner breakers")
}
