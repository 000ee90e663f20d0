// Package observability provides logging, metrics, health checks, and
// graceful shutdown for the jobgate service.
//
// Logging is structured JSON on top of stdlib slog. Metrics are Prometheus
// collectors registered on a dedicated registry and exposed on the health
// port. Health checks probe the database, the optional Redis instance, and
// the external job scheduler.
package observability
