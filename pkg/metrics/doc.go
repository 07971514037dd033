/*
Package metrics provides Prometheus instrumentation and liveness/readiness
endpoints for the agent.

Gauges and histograms are registered at init() and exposed via Handler()
for scraping. Timer wraps a start time for observing elapsed durations
against a histogram. HealthChecker tracks named component health
("provider", "storage") and backs the /healthz, /ready, and /live HTTP
handlers: /ready fails while either critical component is unregistered or
unhealthy, /healthz reports every registered component, and /live only
confirms the process is running.
*/
package metrics
