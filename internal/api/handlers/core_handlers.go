package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crosspay/crosspay_service/pkg/logger"
)

// Version is the service version reported by health endpoints
var Version = "1.0.0"

var startTime = time.Now()

// HealthChecker checks one dependency
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

// Check calls f(ctx)
func (f HealthCheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Dependency is a named health check. A failing critical dependency marks the
// service unhealthy and not ready; others only degrade it.
type Dependency struct {
	Name     string
	Critical bool
	Checker  HealthChecker
}

// CoreHandlers contains health and metrics handlers
type CoreHandlers struct {
	dependencies []Dependency
	logger       *logger.Logger
}

// NewCoreHandlers creates a new core handlers instance
func NewCoreHandlers(dependencies []Dependency, logger *logger.Logger) *CoreHandlers {
	return &CoreHandlers{
		dependencies: dependencies,
		logger:       logger,
	}
}

// HealthCheck represents a health check result
type HealthCheck struct {
	Service   string        `json:"service"`
	Status    string        `json:"status"`
	Critical  bool          `json:"critical"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// Health runs every dependency check
func (h *CoreHandlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	checks, status := h.runChecks(ctx, false)

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(startTime),
		Checks:    checks,
	})
}

// Ready checks if the application is ready to serve traffic
func (h *CoreHandlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks, status := h.runChecks(ctx, true)
	ready := status != "unhealthy"

	readiness := "ready"
	statusCode := http.StatusOK
	if !ready {
		readiness = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    readiness,
		"timestamp": time.Now(),
		"checks":    checks,
	})
}

// Live checks if the application is alive
func (h *CoreHandlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime),
	})
}

// Metrics exposes Prometheus metrics
func (h *CoreHandlers) Metrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

// runChecks checks dependencies and folds them into healthy, degraded or unhealthy
func (h *CoreHandlers) runChecks(ctx context.Context, criticalOnly bool) (map[string]HealthCheck, string) {
	checks := make(map[string]HealthCheck, len(h.dependencies))
	overall := "healthy"

	for _, dep := range h.dependencies {
		if criticalOnly && !dep.Critical {
			continue
		}

		check := checkDependency(ctx, dep)
		checks[dep.Name] = check
		if check.Status == "healthy" {
			continue
		}

		h.logger.Warn("health check failed", "service", dep.Name, "critical", dep.Critical, "error", check.Error)
		if dep.Critical {
			overall = "unhealthy"
		} else if overall == "healthy" {
			overall = "degraded"
		}
	}
	return checks, overall
}

func checkDependency(ctx context.Context, dep Dependency) HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Service:   dep.Name,
		Critical:  dep.Critical,
		Timestamp: start,
	}

	err := dep.Checker.Check(ctx)
	check.Latency = time.Since(start)

	if err != nil {
		check.Status = "unhealthy"
		check.Error = err.Error()
	} else {
		check.Status = "healthy"
	}
	return check
}
