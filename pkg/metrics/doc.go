// Package metrics provides Prometheus metrics collection and exposition for
// HAMgr: cluster counts by task state, reconciliation cycle duration, role
// attach/detach latency, and host-down event counts. Metrics are exposed
// via Handler for scraping.
package metrics
