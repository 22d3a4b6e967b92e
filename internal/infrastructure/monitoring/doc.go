/*
Package monitoring provides Prometheus metrics for the bridge.

# Overview

Metrics is both an envoy.Observer (counting submits, retrievals, releases,
violations and contained faults) and a collector of point-in-time gauges read
from Bridge.Stats (queue depth, capacity, active loans). It also carries the
admin server's HTTP metrics and the dispatcher's counters.

Every Metrics instance registers on its own prometheus.Registry, so a host
process embedding the library never sees duplicate-registration panics.

# Usage

	metrics := monitoring.NewMetrics()
	bridge := envoy.New(envoy.WithObserver(metrics))
	metrics.WatchBridge(bridge)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
