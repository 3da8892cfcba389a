// Package routes assembles the read API over the canonical entity map.
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/sorrel/pkg/middleware"
	"github.com/Ramsey-B/sorrel/pkg/routes/entity"
	"github.com/Ramsey-B/sorrel/pkg/routes/health"
)

// Options configure the read API.
type Options struct {
	ServiceName       string
	Version           string
	DefaultCollection string
	Checks            map[string]health.Pinger
}

// New builds the echo server. The returned checker starts not ready; the caller
// flips it once the listener is up.
func New(reader entity.Reader, logger ectologger.Logger, opts Options) (*echo.Echo, *health.Checker) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	if opts.ServiceName != "" {
		e.Use(otelecho.Middleware(opts.ServiceName))
	}
	e.Use(middleware.Context(opts.DefaultCollection))
	e.Use(middleware.Logger(logger))

	checker := health.NewChecker(opts.Version, opts.Checks)
	checker.RegisterRoutes(e)

	entity.NewHandler(reader).Register(e.Group("/api/v1"))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e, checker
}
