// Package health aggregates cheap liveness probes from the governance
// subsystems (policy engine, ledger, key manager) into one report.
package health

import (
	"context"
	"sort"
	"sync"
)

// Status is the liveness of one subsystem or of the whole process.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// Prober is implemented by every subsystem that exposes a liveness probe.
type Prober interface {
	Health(ctx context.Context) (Status, map[string]string)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (Status, map[string]string)

// Health calls f.
func (f ProberFunc) Health(ctx context.Context) (Status, map[string]string) { return f(ctx) }

// Component is the result of one probe.
type Component struct {
	Name    string            `json:"name"`
	Status  Status            `json:"status"`
	Details map[string]string `json:"details,omitempty"`
}

// Report is the aggregated result. Status is the worst component status.
type Report struct {
	Status     Status      `json:"status"`
	Components []Component `json:"components"`
}

// Registry holds named probers. It is constructed explicitly and passed
// to the components that need it.
type Registry struct {
	mu      sync.RWMutex
	probers map[string]Prober
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{probers: make(map[string]Prober)}
}

// Register adds or replaces the prober for name.
func (r *Registry) Register(name string, p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[name] = p
}

// Names returns the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.probers))
	for name := range r.probers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe in name order. An empty registry reports ok.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	probers := make(map[string]Prober, len(r.probers))
	for name, p := range r.probers {
		probers[name] = p
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(probers))
	for name := range probers {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{Status: StatusOK, Components: make([]Component, 0, len(names))}
	for _, name := range names {
		status, details := probers[name].Health(ctx)
		if status == "" {
			status = StatusDown
		}
		report.Components = append(report.Components, Component{Name: name, Status: status, Details: details})
		if status.rank() > report.Status.rank() {
			report.Status = status
		}
	}
	return report
}

// CheckOne runs a single named probe. Unknown names report down.
func (r *Registry) CheckOne(ctx context.Context, name string) Component {
	r.mu.RLock()
	p, ok := r.probers[name]
	r.mu.RUnlock()
	if !ok {
		return Component{Name: name, Status: StatusDown, Details: map[string]string{"error": "not registered"}}
	}
	status, details := p.Health(ctx)
	return Component{Name: name, Status: status, Details: details}
}
