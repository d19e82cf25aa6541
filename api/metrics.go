package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exposes request metrics and the subscriber gauge on /metrics.
// Long-lived stream requests are left out of the request histograms.
func RegisterMetrics(e *echo.Echo, reg *prometheus.Registry, b Broker) error {
	clients := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "prophecy",
		Subsystem: "stream",
		Name:      "clients",
		Help:      "Number of registered event stream subscribers.",
	}, func() float64 {
		return float64(b.ClientCount())
	})
	if err := reg.Register(clients); err != nil {
		return err
	}

	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "prophecy",
		Subsystem:  "http",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/metrics" || p == streamPath
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
	return nil
}
