// Package requestid correlates log records and outbound calls that belong to
// one inbound HTTP request.
//
// Middleware reuses a well formed X-Request-ID header from the client or
// generates a UUID, stores it in the request context and echoes it back in
// the response. Transport forwards the id on outbound requests made with the
// same context, so the image model backend and the identity provider log the
// same id. LoggerExtractor plugs the id into pkg/logger.
package requestid
