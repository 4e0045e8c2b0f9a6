// Package identity answers "who is calling" and "who is this user" for the
// rest of the service.
//
// The session itself is verified by pkg/jwt; Provider reads the user id from
// the verified claims. User profiles come from two chained sources: the
// session claims when they describe the requested user, then the identity
// backend API. Backend results are held in an expirable LRU so billing flows
// do not call the backend on every request.
//
// Provider also satisfies subscription.Directory, which is how checkout learns
// the email to put on a new billing customer.
//
// The identity backend signs its webhooks with svix; ParseUserEvent decodes
// the user.created, user.updated and user.deleted payloads.
package identity
