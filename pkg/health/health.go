// Package health runs liveness and readiness probes in the background and
// serves their last known state.
//
// A check flips to unhealthy only after FailureThreshold consecutive
// failures and back to healthy after SuccessThreshold consecutive passes.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

func (k Kind) String() string {
	if k == Liveness {
		return "liveness"
	}
	return "readiness"
}

// Check describes one registered probe. Zero thresholds default to 3
// failures and 1 success.
type Check struct {
	Name             string
	Kind             Kind
	Timeout          time.Duration
	Fn               CheckFunc
	FailureThreshold int
	SuccessThreshold int
	// Optional checks are reported but never fail the probe.
	Optional bool
}

type state struct {
	healthy bool
	err     error
	since   time.Time
}

type probe struct {
	Check

	mu    sync.RWMutex
	state state

	// Touched only by the goroutine that runs the probe.
	fails, passes int
}

func (p *probe) snapshot() state {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// run executes the check once. It reports whether the healthy flag changed.
func (p *probe) run(ctx context.Context, now time.Time) (changed bool) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	err := p.Fn(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.err = err
	if err != nil {
		p.passes = 0
		p.fails++
		if p.state.healthy && p.fails >= p.FailureThreshold {
			p.state.healthy, p.state.since = false, now
			return true
		}
		return false
	}
	p.fails = 0
	p.passes++
	if !p.state.healthy && p.passes >= p.SuccessThreshold {
		p.state.healthy, p.state.since = true, now
		return true
	}
	return false
}

// Health aggregates probes for the /livez and /readyz endpoints.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Add registers c. Checks start healthy.
func (h *Health) Add(c Check) {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	p := &probe{Check: c, state: state{healthy: true, since: time.Now()}}

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
}

// Start runs every registered check each interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	probes := append([]*probe(nil), h.probes...)
	h.mu.Unlock()

	for _, p := range probes {
		go h.loop(ctx, p, interval)
	}
}

func (h *Health) loop(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.run(ctx, time.Now()) {
			st := p.snapshot()
			h.lg.Warn("Health check changed state",
				zap.String("check", p.Name),
				zap.Stringer("kind", p.Kind),
				zap.Bool("healthy", st.healthy),
				zap.NamedError("last_error", st.err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the background checks. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady toggles the manual readiness gate, closed during startup and
// graceful shutdown.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports whether the gate is open and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.of(Readiness) {
		if !p.Optional && !p.snapshot().healthy {
			return false
		}
	}
	return true
}

func (h *Health) of(kind Kind) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*probe
	for _, p := range h.probes {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// LiveEndpoint serves the liveness probe.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.of(Liveness), true)
}

// ReadyEndpoint serves the readiness probe.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.of(Readiness), h.ready.Load())
}

// writeStatus responds 200 when gate is open and all probes are healthy,
// 503 otherwise. Every probe is listed with its current state.
func writeStatus(w http.ResponseWriter, probes []*probe, gate bool) {
	ok := gate
	states := make([]state, len(probes))
	for i, p := range probes {
		states[i] = p.snapshot()
		ok = ok && (states[i].healthy || p.Optional)
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) {
			if ok {
				e.Str("ok")
			} else {
				e.Str("unhealthy")
			}
		})
		if !gate {
			e.Field("ready", func(e *jx.Encoder) { e.Bool(false) })
		}
		if len(probes) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for i, p := range probes {
					st := states[i]
					e.Field(p.Name, func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("healthy", func(e *jx.Encoder) { e.Bool(st.healthy) })
							if p.Optional {
								e.Field("optional", func(e *jx.Encoder) { e.Bool(true) })
							}
							e.Field("since", func(e *jx.Encoder) { e.Str(st.since.UTC().Format(time.RFC3339)) })
							if !st.healthy && st.err != nil {
								e.Field("error", func(e *jx.Encoder) { e.Str(st.err.Error()) })
							}
						})
					})
				}
			})
		})
	})

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
