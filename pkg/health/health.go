// Package health serves the /livez and /readyz probes of the API server.
//
// Every registered check runs in its own goroutine. A check turns unhealthy
// after FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive passes.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Probe is the kind of a check.
type Probe int

const (
	// Liveness checks decide whether the process should be restarted.
	Liveness Probe = iota
	// Readiness checks decide whether the process receives traffic.
	Readiness
)

func (p Probe) String() string {
	if p == Readiness {
		return "readiness"
	}
	return "liveness"
}

// CheckFunc returns nil while the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Check describes one registered check. Zero values default to a one second
// timeout, three failures and one success.
type Check struct {
	Name             string
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	Func             CheckFunc
}

type check struct {
	Check
	probe Probe

	// fails and passes are only touched by the goroutine running the check.
	fails  int
	passes int

	mu      sync.RWMutex
	healthy bool
	lastErr error
}

func newCheck(p Probe, c Check) *check {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	return &check{Check: c, probe: p, healthy: true}
}

func (c *check) state() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy, c.lastErr
}

// run executes the check once and returns whether its health flipped.
func (c *check) run(ctx context.Context) (healthy, changed bool) {
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	err := c.Func(checkCtx)

	if err != nil {
		c.passes = 0
		c.fails++
	} else {
		c.fails = 0
		c.passes++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	switch {
	case err != nil && c.healthy && c.fails >= c.FailureThreshold:
		c.healthy = false
		changed = true
	case err == nil && !c.healthy && c.passes >= c.SuccessThreshold:
		c.healthy = true
		changed = true
	}
	return c.healthy, changed
}

// Option configures Health.
type Option func(*Health)

// WithMeterProvider records the state of every check as the
// spree.health.check gauge (1 healthy, 0 unhealthy).
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(h *Health) { h.meterProvider = mp }
}

// Health runs checks and serves their aggregated state.
type Health struct {
	ready atomic.Bool

	meterProvider metric.MeterProvider
	gauge         metric.Int64Gauge

	// mu guards checks and cancel; checks are registered before Start.
	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Health that is not ready until SetReady(true).
func New(opts ...Option) *Health {
	h := &Health{meterProvider: metricnoop.NewMeterProvider()}
	for _, o := range opts {
		o(h)
	}
	// Instrument creation only fails on invalid names.
	h.gauge, _ = h.meterProvider.Meter("github.com/dotandbo/spree/pkg/health").Int64Gauge("spree.health.check",
		metric.WithDescription("Health check state, 1 when healthy"),
	)
	return h
}

// Register adds a check of probe kind p. Checks start healthy.
func (h *Health) Register(p Probe, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, newCheck(p, c))
}

func (h *Health) snapshot(p Probe) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*check
	for _, c := range h.checks {
		if c.probe == p {
			out = append(out, c)
		}
	}
	return out
}

// Start runs every check now and then every interval until ctx is done or
// Stop is called. Transitions are logged with the logger of ctx.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.loop(ctx, c, interval)
		}()
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		h.runCheck(ctx, c)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Health) runCheck(ctx context.Context, c *check) {
	healthy, changed := c.run(ctx)

	var v int64
	if healthy {
		v = 1
	}
	h.gauge.Record(ctx, v, metric.WithAttributes(
		attribute.String("check", c.Name),
		attribute.String("probe", c.probe.String()),
	))

	if !changed {
		return
	}
	lg := zctx.From(ctx).With(zap.String("check", c.Name), zap.Stringer("probe", c.probe))
	if healthy {
		lg.Info("Health check recovered")
		return
	}
	_, err := c.state()
	lg.Warn("Health check failing", zap.Int("failures", c.fails), zap.Error(err))
}

// SetReady marks the service ready or, during shutdown, not ready.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(Readiness) {
		if healthy, _ := c.state(); !healthy {
			return false
		}
	}
	return true
}

// Stop cancels the checks and waits for them. Safe to call twice.
func (h *Health) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// Handler serves the state of the checks of probe kind p: 200 when all of
// them pass, 503 otherwise. Readiness also requires SetReady(true).
func (h *Health) Handler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		checks := h.snapshot(p)
		results := make(map[string]string, len(checks)+1)
		ok := true
		for _, c := range checks {
			healthy, err := c.state()
			switch {
			case healthy:
				results[c.Name] = "ok"
			case err != nil:
				results[c.Name] = err.Error()
				ok = false
			default:
				results[c.Name] = "check is unhealthy"
				ok = false
			}
		}
		if p == Readiness && !h.ready.Load() {
			results["_ready"] = "service is not ready"
			ok = false
		}
		writeResponse(w, ok, results)
	}
}

// writeResponse writes {"status":"ok"|"unhealthy","checks":{...}}.
func writeResponse(w http.ResponseWriter, ok bool, results map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status, text := http.StatusOK, "ok"
	if !ok {
		status, text = http.StatusServiceUnavailable, "unhealthy"
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(text) })
		if len(results) == 0 {
			return
		}
		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		slices.Sort(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(results[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
