// Package health probes the backing services (Postgres, Redis) behind the
// /health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Probe reports whether a dependency is reachable. db.PingContext and
// cache.Cache.Ping both fit.
type Probe func(ctx context.Context) error

// Status is the outcome of one probe.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type namedProbe struct {
	name  string
	probe Probe
}

// Registry runs every registered probe in parallel, each bounded by the
// same timeout.
type Registry struct {
	timeout time.Duration

	mu     sync.RWMutex
	probes []namedProbe
}

// NewRegistry returns an empty registry whose probes get at most timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{timeout: timeout}
}

// Add registers a probe. Results keep registration order.
func (r *Registry) Add(name string, p Probe) {
	r.mu.Lock()
	r.probes = append(r.probes, namedProbe{name: name, probe: p})
	r.mu.Unlock()
}

// CheckAll runs the probes and reports whether all of them passed.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := append([]namedProbe(nil), r.probes...)
	r.mu.RUnlock()

	statuses := make([]Status, len(probes))
	var wg sync.WaitGroup
	for i, np := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = r.run(ctx, np)
		}()
	}
	wg.Wait()

	healthy := true
	for _, st := range statuses {
		healthy = healthy && st.Healthy
	}
	return healthy, statuses
}

func (r *Registry) run(ctx context.Context, np namedProbe) Status {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := np.probe(ctx)
	st := Status{Name: np.name, Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		st.Detail = err.Error()
	}
	return st
}
