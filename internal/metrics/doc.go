// Package metrics exports kvdb's Prometheus metrics from a private registry.
package metrics
