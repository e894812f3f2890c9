// Package health probes the matcher's dependencies (item storage, the match
// cache, the engine itself) and serves the aggregate on liveness and
// readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

const defaultProbeTimeout = 2 * time.Second

// Probe checks one dependency. detail is reported on success.
type Probe func(ctx context.Context) (detail string, err error)

// Ping adapts a ping function into a Probe.
func Ping(ping func(ctx context.Context) error) Probe {
	return func(ctx context.Context) (string, error) {
		return "", ping(ctx)
	}
}

type Component struct {
	Status    Status `json:"status"`
	Required  bool   `json:"required"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type Report struct {
	Status     Status               `json:"status"`
	Draining   bool                 `json:"draining,omitempty"`
	Components map[string]Component `json:"components"`
	CheckedAt  time.Time            `json:"checked_at"`
}

type check struct {
	name     string
	required bool
	probe    Probe
}

// Checker runs registered probes concurrently. A failing required probe
// takes the service down; a failing optional one only degrades it.
type Checker struct {
	mu       sync.RWMutex
	checks   []check
	timeout  time.Duration
	draining atomic.Bool
	logger   *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		timeout: defaultProbeTimeout,
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds a probe. Registering a name twice replaces the earlier probe.
func (c *Checker) Register(name string, required bool, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i] = check{name: name, required: required, probe: probe}
			return
		}
	}
	c.checks = append(c.checks, check{name: name, required: required, probe: probe})
	sort.Slice(c.checks, func(i, j int) bool { return c.checks[i].name < c.checks[j].name })
}

// Drain marks the service as shutting down. Readiness fails from then on so
// load balancers stop routing before the listener closes.
func (c *Checker) Drain() {
	if !c.draining.Swap(true) {
		c.logger.Info("readiness draining")
	}
}

func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]check(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]Component, len(checks))
	var wg sync.WaitGroup
	for i, ch := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.probe(ctx, ch)
		}()
	}
	wg.Wait()

	report := Report{
		Status:     StatusUp,
		Draining:   c.draining.Load(),
		Components: make(map[string]Component, len(checks)),
		CheckedAt:  time.Now().UTC(),
	}
	for i, ch := range checks {
		comp := results[i]
		report.Components[ch.name] = comp
		switch {
		case comp.Status == StatusDown:
			report.Status = StatusDown
		case comp.Status == StatusDegraded && report.Status == StatusUp:
			report.Status = StatusDegraded
		}
	}
	return report
}

func (c *Checker) probe(ctx context.Context, ch check) Component {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	detail, err := ch.probe(pctx)
	comp := Component{
		Status:    StatusUp,
		Required:  ch.required,
		Detail:    detail,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		comp.Status = StatusDegraded
		if ch.required {
			comp.Status = StatusDown
		}
		comp.Error = err.Error()
		c.logger.Warn("health probe failed", "check", ch.name, "required", ch.required, "error", err)
	}
	return comp
}

// LiveHandler reports that the process is serving. It never probes.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 503 when a required dependency is down or the service
// is draining. Degraded is still ready: matching works without the cache.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown || report.Draining {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
