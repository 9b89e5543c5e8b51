// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Workflow definition management
//   - Starting, inspecting and cancelling runs
//   - Importing accounts and proxy pools
//   - Health checks
//   - Prometheus metrics
package http
