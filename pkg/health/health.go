// Package health implements Kubernetes-style liveness and readiness probes.
//
// Registered checks are polled on a shared interval, each on its own
// goroutine. A check turns failing only after three consecutive errors and
// recovers on the first success, so one slow poll does not bounce the
// service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// failureThreshold is the number of consecutive poll errors before a probe
// reports failing.
const failureThreshold = 3

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// probe is one registered check plus its polling state. poll runs on a
// single goroutine; status is read concurrently by the HTTP endpoints, so
// the state fields sit behind a mutex.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	failing bool
	fails   int
	lastErr error
}

func (p *probe) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.check(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		p.fails++
		if p.fails >= failureThreshold {
			p.failing = true
		}
		return
	}
	p.fails = 0
	p.failing = false
}

func (p *probe) status() (failing bool, lastErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failing, p.lastErr
}

// Health tracks the liveness and readiness probes of a service.
type Health struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health with no probes and readiness off. Call SetReady(true)
// once initialization completes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe behind the /livez endpoint. Liveness
// failures mean the process itself is broken and should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &probe{name: name, timeout: timeout, check: check})
}

// AddReadinessCheck registers a probe behind the /readyz endpoint. Readiness
// failures mean a dependency is unavailable and traffic should be routed
// elsewhere until it recovers.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &probe{name: name, timeout: timeout, check: check})
}

// Start begins polling every registered probe at the given interval. Probes
// registered after Start are not polled.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go pollLoop(ctx, p, interval)
	}
}

func pollLoop(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it to
// false first so load balancers drain the instance before the listener
// closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.failures(h.snapshot(&h.readiness))) == 0
}

// Stop cancels the polling goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// LiveEndpoint serves /livez: 200 while all liveness probes pass, 503 with
// the failing probe names otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz: 200 only when the service is marked ready
// and all readiness probes pass.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func (h *Health) snapshot(probes *[]*probe) []*probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*probe(nil), *probes...)
}

func (h *Health) failures(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		failing, err := p.status()
		if !failing {
			continue
		}
		if err != nil {
			failures[p.name] = err.Error()
		} else {
			failures[p.name] = "check is unhealthy"
		}
	}
	return failures
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
