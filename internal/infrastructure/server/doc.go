// Package server runs the optional admin HTTP surface: health, bridge and
// dispatcher snapshots, and Prometheus metrics.
package server
