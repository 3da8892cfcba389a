// Package health reports whether the read API and the stores behind it are up.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

const pingTimeout = 2 * time.Second

// Pinger is a dependency the health report checks, usually a database.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Checker struct {
	deps    map[string]Pinger
	version string
	started time.Time
	ready   atomic.Bool
}

func NewChecker(version string, deps map[string]Pinger) *Checker {
	return &Checker{deps: deps, version: version, started: time.Now()}
}

// SetReady flips the readiness check.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/health", c.Health)
	e.GET("/api/v1/health/live", c.Live)
	e.GET("/api/v1/health/ready", c.Ready)
}

type Report struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	Checks     map[string]CheckResult `json:"checks"`
	ReportedAt time.Time              `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

func (c *Checker) check(ctx context.Context, p Pinger) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	if err := p.PingContext(ctx); err != nil {
		return CheckResult{Status: "unhealthy", Message: err.Error()}
	}
	return CheckResult{Status: "healthy", Latency: time.Since(start).String()}
}

// Health pings every dependency. Any failure makes the whole report a 503.
func (c *Checker) Health(ec echo.Context) error {
	report := Report{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Checks:     make(map[string]CheckResult, len(c.deps)),
		ReportedAt: time.Now().UTC(),
	}
	for name, p := range c.deps {
		if p == nil {
			continue
		}
		res := c.check(ec.Request().Context(), p)
		if res.Status != "healthy" {
			report.Status = "unhealthy"
		}
		report.Checks[name] = res
	}

	code := http.StatusOK
	if report.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return ec.JSON(code, report)
}

func (c *Checker) Live(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

func (c *Checker) Ready(ec echo.Context) error {
	if !c.ready.Load() {
		return ec.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return ec.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
