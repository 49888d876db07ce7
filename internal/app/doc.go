// Package app assembles the entitlement service: configuration, logging,
// OpenTelemetry, the license manager, and the local HTTP surface. It owns
// process lifecycle — startup ordering, signal handling, and graceful
// shutdown — so cmd/entitled stays a thin entry point.
package app
