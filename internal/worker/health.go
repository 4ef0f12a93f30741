// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"sort"
	"sync"
	"time"
)

// HealthState classifies a worker's condition.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// HealthStatus is a state with an optional reason for non-healthy
// conditions.
type HealthStatus struct {
	State  HealthState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}

func Healthy() HealthStatus                { return HealthStatus{State: HealthHealthy} }
func Degraded(reason string) HealthStatus  { return HealthStatus{State: HealthDegraded, Reason: reason} }
func Unhealthy(reason string) HealthStatus { return HealthStatus{State: HealthUnhealthy, Reason: reason} }

// HealthCheck is the latest recorded check for one named worker.
type HealthCheck struct {
	Name                string        `json:"name"`
	Status              HealthStatus  `json:"status"`
	LastChecked         time.Time     `json:"last_checked"`
	ResponseTime        time.Duration `json:"response_time_ms,omitempty"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
}

// HealthReport is a point-in-time snapshot across all tracked workers.
type HealthReport struct {
	Overall     HealthStatus  `json:"overall"`
	Checks      []HealthCheck `json:"checks"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// HealthMonitor tracks check results for a fleet of workers. Safe for
// concurrent use.
type HealthMonitor struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	history map[string][]bool
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:  make(map[string]HealthCheck),
		history: make(map[string][]bool),
	}
}

// RecordCheck stores the result of one health check for a named worker.
func (h *HealthMonitor) RecordCheck(name string, status HealthStatus, responseTime time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	isHealthy := status.State == HealthHealthy
	var failures uint32
	if !isHealthy {
		failures = 1
		if prev, ok := h.checks[name]; ok {
			failures = prev.ConsecutiveFailures + 1
		}
	}

	h.checks[name] = HealthCheck{
		Name:                name,
		Status:              status,
		LastChecked:         time.Now().UTC(),
		ResponseTime:        responseTime,
		ConsecutiveFailures: failures,
	}
	h.history[name] = append(h.history[name], isHealthy)
}

// Status returns the latest check for a worker by name.
func (h *HealthMonitor) Status(name string) (HealthCheck, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.checks[name]
	return c, ok
}

// AllHealthy reports whether every tracked worker is healthy. An empty
// monitor is not healthy.
func (h *HealthMonitor) AllHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.checks) == 0 {
		return false
	}
	for _, c := range h.checks {
		if c.Status.State != HealthHealthy {
			return false
		}
	}
	return true
}

// UnhealthyWorkers returns the checks currently in the unhealthy state.
func (h *HealthMonitor) UnhealthyWorkers() []HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []HealthCheck
	for _, c := range h.checks {
		if c.Status.State == HealthUnhealthy {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UptimePercentage returns the fraction of historical checks that were
// healthy, in [0, 100]. No history yields zero.
func (h *HealthMonitor) UptimePercentage(name string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hist := h.history[name]
	if len(hist) == 0 {
		return 0
	}
	healthy := 0
	for _, ok := range hist {
		if ok {
			healthy++
		}
	}
	return float64(healthy) / float64(len(hist)) * 100
}

// GenerateReport produces a snapshot with a rolled-up overall status:
// any unhealthy worker marks the fleet unhealthy, then degraded, then
// unknown, then healthy.
func (h *HealthMonitor) GenerateReport() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make([]HealthCheck, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	return HealthReport{
		Overall:     overallStatus(checks),
		Checks:      checks,
		GeneratedAt: time.Now().UTC(),
	}
}

func overallStatus(checks []HealthCheck) HealthStatus {
	if len(checks) == 0 {
		return HealthStatus{State: HealthUnknown}
	}
	for _, c := range checks {
		if c.Status.State == HealthUnhealthy {
			return Unhealthy("one or more workers unhealthy")
		}
	}
	for _, c := range checks {
		if c.Status.State == HealthDegraded {
			return Degraded("one or more workers degraded")
		}
	}
	for _, c := range checks {
		if c.Status.State == HealthUnknown {
			return HealthStatus{State: HealthUnknown}
		}
	}
	return Healthy()
}
