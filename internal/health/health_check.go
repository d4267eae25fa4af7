package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

// Checker performs health checks for the replica node. Readiness is
// gated on bootstrap: a replica that is still backfilling is live but
// not ready.
type Checker struct {
	nodeID    string
	logger    *zap.Logger
	readyFunc func() bool

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string
	Status    string
	Message   string
	Timestamp time.Time
}

// CheckerConfig holds configuration for health checks
type CheckerConfig struct {
	NodeID string
	// Ready reports whether the replica finished bootstrapping.
	Ready func() bool
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig, logger *zap.Logger) *Checker {
	ready := cfg.Ready
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Checker{
		nodeID:     cfg.NodeID,
		logger:     logger,
		readyFunc:  ready,
		checks:     make(map[string]CheckResult),
		livenessOK: true,
		status:     model.NodeStatusHealthy,
	}
}

// Start runs periodic health checks until ctx is cancelled
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	h.runHealthChecks()

	for {
		select {
		case <-ticker.C:
			h.runHealthChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// runHealthChecks runs all health checks
func (h *Checker) runHealthChecks() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()

	checks := []func() CheckResult{
		h.checkBootstrap,
		h.checkFileDescriptors,
	}

	allHealthy := true
	allReady := true

	for _, check := range checks {
		result := check()
		h.checks[result.Name] = result

		if result.Status != "healthy" {
			allHealthy = false
			if result.Status == "critical" {
				allReady = false
			}
		}
	}

	if !allHealthy {
		if !allReady {
			h.status = model.NodeStatusUnhealthy
		} else {
			h.status = model.NodeStatusDegraded
		}
	} else {
		h.status = model.NodeStatusHealthy
	}

	// Liveness: process is responsive if we got here at all.
	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

// checkBootstrap reports critical until the replica façade is serving
func (h *Checker) checkBootstrap() CheckResult {
	if !h.readyFunc() {
		return CheckResult{
			Name:      "bootstrap",
			Status:    "critical",
			Message:   "replica is still bootstrapping",
			Timestamp: time.Now(),
		}
	}
	return CheckResult{
		Name:      "bootstrap",
		Status:    "healthy",
		Message:   "replica is serving",
		Timestamp: time.Now(),
	}
}

// checkFileDescriptors checks if file descriptor usage is acceptable
func (h *Checker) checkFileDescriptors() CheckResult {
	var rlimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    "warning",
			Message:   fmt.Sprintf("Failed to get rlimit: %v", err),
			Timestamp: time.Now(),
		}
	}

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		// Not available off Linux; treat as healthy.
		return CheckResult{
			Name:      "file_descriptors",
			Status:    "healthy",
			Message:   fmt.Sprintf("Soft limit: %d, hard limit: %d", rlimit.Cur, rlimit.Max),
			Timestamp: time.Now(),
		}
	}

	openFDs := uint64(len(entries))
	usagePercent := float64(openFDs) / float64(rlimit.Cur) * 100

	if usagePercent > 90 {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    "warning",
			Message:   fmt.Sprintf("File descriptor usage high: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur),
			Timestamp: time.Now(),
		}
	}

	return CheckResult{
		Name:      "file_descriptors",
		Status:    "healthy",
		Message:   fmt.Sprintf("File descriptor usage: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur),
		Timestamp: time.Now(),
	}
}

// IsLive returns whether the node is live (liveness probe)
func (h *Checker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *Checker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *Checker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bootstrap := model.BootstrapStateBackfilling
	if h.readyFunc() {
		bootstrap = model.BootstrapStateReady
	}
	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Bootstrap: bootstrap,
		Timestamp: h.lastCheck.Unix(),
	}
}

// GetChecks returns a copy of all check results
func (h *Checker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *Checker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live := h.livenessOK
	h.mu.RUnlock()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.readinessOK
	h.mu.RUnlock()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":     ready,
		"status":    status.Status,
		"bootstrap": status.Bootstrap,
	})
}
