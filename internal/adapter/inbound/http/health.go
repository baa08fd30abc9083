package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/memory"
	"github.com/kestrel-social/kestrel/internal/service"
)

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	rateLimiter *memory.MemoryRateLimiter
	telemetry   *service.TelemetryService
	approvals   *service.ApprovalService
	version     string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(
	rateLimiter *memory.MemoryRateLimiter,
	telemetry *service.TelemetryService,
	approvals *service.ApprovalService,
	version string,
) *HealthChecker {
	return &HealthChecker{
		rateLimiter: rateLimiter,
		telemetry:   telemetry,
		approvals:   approvals,
		version:     version,
	}
}

// Check runs every configured check.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.rateLimiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("ok: %d keys", h.rateLimiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.telemetry != nil {
		depth, capacity := h.telemetry.Depth(), h.telemetry.Capacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		// >90% full means the writer is falling behind.
		if percentFull > 90 {
			checks["telemetry"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["telemetry"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.telemetry.DroppedEvents(); drops > 0 {
			checks["telemetry_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["telemetry"] = "not configured"
	}

	if h.approvals != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		n, err := h.approvals.CountPending(ctx)
		cancel()
		if err != nil {
			checks["approvals"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["approvals"] = fmt.Sprintf("ok: %d pending", n)
		}
	} else {
		checks["approvals"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler serves Check as JSON, with 503 when unhealthy.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
