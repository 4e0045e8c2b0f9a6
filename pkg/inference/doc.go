// Package inference is the HTTP client of the image model API.
//
// The client exposes the three metered operations: Generate, Upscale and
// EnhancePrompt. Images travel base64 encoded inside JSON bodies. Calls go
// through a circuit breaker so a failing model backend is not hammered by
// every waiting request; while the circuit is open calls fail fast with
// ErrCircuitOpen. Outbound requests are traced with otelhttp.
//
// Callers are expected to refund the consumed quota whenever a call returns
// an error.
package inference
