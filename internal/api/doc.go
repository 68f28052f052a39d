// Package api hosts the HTTP ingress for scrape jobs. Routes:
//   - POST /scrap-manga (and /scrap-manga/) accepts a job and replies before
//     it runs.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//
// Anything else answers 404 with the requested path in the message.
package api
