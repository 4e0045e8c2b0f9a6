// Package notify delivers "refetch" signals to connected browsers.
//
// Trigger publishes an event name on a channel with no payload; receivers
// are expected to refetch whatever the event names. RedisNotifier publishes
// through Redis so every replica sees the signal, and Relay subscribes to
// those publications and fans them out to the local Hub, which the SSE
// endpoint reads from. A Hub alone is a complete single-process Notifier.
package notify
