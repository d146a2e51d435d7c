// Package metrics defines the gateway's Prometheus collectors.
//
// All collectors live on Registry rather than the global default registry.
// Components record into the package-level vectors directly; the API
// server exposes them at /metrics via Handler.
package metrics
