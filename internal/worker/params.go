package worker

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// RuntimeParams holds the mutable strategy parameters a running worker
// reads each tick. Adaptation messages overlay values here without
// touching the persisted agent config.
type RuntimeParams struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewRuntimeParams seeds the runtime view from the persisted config.
func NewRuntimeParams(initial map[string]any) *RuntimeParams {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &RuntimeParams{values: values}
}

// Apply overlays the given overrides.
func (p *RuntimeParams) Apply(overrides map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range overrides {
		p.values[k] = v
	}
}

// Snapshot returns a copy of the current values.
func (p *RuntimeParams) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Decimal returns the named value as a decimal when present and numeric.
func (p *RuntimeParams) Decimal(key string) (decimal.Decimal, bool) {
	p.mu.RLock()
	v, ok := p.values[key]
	p.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}
	return domain.DecimalValue(v)
}

// LoopInterval returns the tick period, falling back to the default.
func (p *RuntimeParams) LoopInterval() time.Duration {
	d, ok := p.Decimal("loop_interval_seconds")
	if !ok || d.Sign() <= 0 {
		return domain.DefaultLoopInterval
	}
	return time.Duration(d.InexactFloat64() * float64(time.Second))
}
