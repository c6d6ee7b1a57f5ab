// Package version exposes the build version reported by the HTTP API and
// the OpenTelemetry resource.
package version

// Version is overridden at build time via -ldflags "-X jobq/internal/version.Version=...".
var Version = "0.2.0-dev"
