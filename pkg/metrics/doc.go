/*
Package metrics provides Prometheus metrics collection and exposition for
the autoscaler, plus a small process health tracker for liveness/readiness
HTTP endpoints.

Metrics are registered at package init via prometheus.MustRegister and
exposed through Handler() for scraping. Categories:

  - Fleet: node counts by type/status, pending launches
  - Launcher: launches, launch failures, queue depth, queue drops
  - Updater: success/failure/recovery counts, duration histogram
  - Scheduler: unfulfilled demand bundles, scheduling duration
  - Reconciler: cycle duration, cycles completed, ticks skipped

Timer is a small helper that records elapsed wall time into a histogram,
used at both the scheduler and reconciler tick boundaries.

HealthChecker (health.go) tracks named component health independent of
Prometheus, backing the /health, /ready and /live HTTP handlers the CLI
wires up for process supervisors.
*/
package metrics
