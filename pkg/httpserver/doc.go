// Package httpserver runs the public HTTP listener.
//
// Server owns the *http.Server: Run listens until its context is cancelled and
// then drains in-flight requests within the shutdown timeout. Signal handling
// is left to the caller, which cancels the context. Wrap adds the outer
// middleware that every route shares: OpenTelemetry spans via otelhttp and
// CORS via rs/cors. Liveness and Readiness serve the probe endpoints.
package httpserver
