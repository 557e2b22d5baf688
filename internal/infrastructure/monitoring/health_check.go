package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hubcom/internal/core/ports"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
	now    func() time.Time
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) (bool, error)
	Timeout time.Duration
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Checks      map[string]string `json:"checks"`
	ActivePeers int               `json:"active_peers"`
	Hubs        int               `json:"hubs"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
		now:    time.Now,
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

// AddRegistryCheck verifies the hub registry answers and reports its size.
func (h *HealthChecker) AddRegistryCheck(registry ports.HubRegistry, timeout time.Duration) {
	h.AddCheck("registry", func(ctx context.Context) (bool, error) {
		done := make(chan struct{})
		go func() {
			registry.Count()
			close(done)
		}()
		select {
		case <-done:
			return true, nil
		case <-ctx.Done():
			return false, fmt.Errorf("registry unresponsive: %w", ctx.Err())
		}
	}, timeout)
}

// AddGeoCheck verifies the locator resolves a well-known address.
func (h *HealthChecker) AddGeoCheck(geo ports.GeoLocator, probeIP string, timeout time.Duration) {
	h.AddCheck("geo", func(ctx context.Context) (bool, error) {
		if _, err := geo.Lookup(ctx, probeIP); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: h.now(),
		Checks:    make(map[string]string),
	}

	for _, check := range h.checks {
		healthy, err := h.run(ctx, check)
		if err != nil || !healthy {
			status.Status = "unhealthy"
			if err != nil {
				status.Checks[check.Name] = err.Error()
			} else {
				status.Checks[check.Name] = "check failed"
			}
		} else {
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) (bool, error) {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return check.Check(checkCtx)
}
