// Package http provides the local HTTP surface of the entitlement engine:
// license status, validation and activation endpoints over the manager
// facade, plus health and Prometheus metrics. The surface is meant for the
// embedding application and local diagnostics, not for public exposure.
package http
