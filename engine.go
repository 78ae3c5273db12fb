package pfwall

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine owns the full filtering/NAT state machine: the connection
// tracker, the filter and NAT rule chains, the log ring buffer, and the
// metrics registry (spec.md §4). It is the thing hooks.go's four hook
// functions and control.go's Handler operate against.
type Engine struct {
	Tracker     *Tracker
	FilterChain *FilterChain
	NatChain    *NatChain
	LogBuffer   *LogBuffer
	Metrics     *Metrics

	now func() int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds an Engine from cfg, wiring its initial filter/NAT rule
// sets, and starts the background expiry sweep at ConnRollInterval
// (spec.md §4.5). Registerer may be nil to disable metrics entirely.
func NewEngine(cfg Config, reg prometheus.Registerer) (*Engine, error) {
	now := func() int64 { return time.Now().Unix() }

	tracker := NewTracker(now)
	filterChain := NewFilterChain(tracker)
	natChain := NewNatChain()

	action, err := parseAction(cfg.DefaultAction)
	if err != nil {
		return nil, err
	}
	filterChain.SetDefaultAction(action)

	filterRules, err := cfg.FilterRuleSet()
	if err != nil {
		return nil, err
	}
	filterChain.Bootstrap(filterRules)

	natRules, err := cfg.NatRuleSet()
	if err != nil {
		return nil, err
	}
	natChain.Bootstrap(natRules)

	var metrics *Metrics
	if reg != nil {
		metrics = NewMetrics(reg)
		tracker.attachMetrics(metrics)
	}

	e := &Engine{
		Tracker:     tracker,
		FilterChain: filterChain,
		NatChain:    natChain,
		LogBuffer:   NewLogBuffer(),
		Metrics:     metrics,
		now:         now,
		done:        make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.sweepLoop(ctx)

	return e, nil
}

// sweepLoop periodically evicts expired flows, spec.md §4.5's ConnRollInterval
// housekeeping tick, running independently of packet traffic.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(ConnRollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := e.Tracker.SweepExpired(e.now())
			if n > 0 {
				log.Printf("[engine] swept %d expired flows", n)
			}
		}
	}
}

// Stop halts the background sweep goroutine, blocking until it exits or
// ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
