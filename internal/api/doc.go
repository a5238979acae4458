// Package api hosts the HTTP server, middleware, and REST handlers for the
// dashboard and operators. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /api/products, /api/status, /api/stats and /api/check for tracking
//     products and triggering checks.
//
// Every /api response carries a "success" flag.
package api
