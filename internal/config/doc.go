// Package config provides centralized configuration management for the
// entitlement engine. It handles loading configuration from multiple
// sources, validation, and path resolution anchored at the executable
// directory.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file (entitled.yaml next to the binary)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern ENTITLED_* for namespacing:
//
//	ENTITLED_LICENSE_API_KEY=...
//	ENTITLED_LICENSE_CACHE_TTL=5m
//	ENTITLED_LOGGING_LEVEL=info
//	ENTITLED_SERVER_PORT=8080
//
// # Path Management
//
// Relative paths are always resolved against the executable directory,
// never the current working directory, so the binary behaves identically
// wherever it is launched from.
package config
