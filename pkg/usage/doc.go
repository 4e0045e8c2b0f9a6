// Package usage keeps per-user, per-feature usage counters.
//
// Each counter lives under three keys in the key-value store:
//
//	<prefix>:<userID>        count in the current period
//	<prefix>:<userID>:date   UTC timestamp of the last increment
//	<prefix>:<userID>:total  lifetime count, never reset
//
// The prefix comes from the Feature (image_generations, image_upscales,
// prompt_enhancements). A counter resets lazily: the first read or increment
// after a period boundary (see package period) treats the count as zero.
//
// Ledger combines a Store with the period policy. RedisStore performs
// increments and conditional increments in Lua scripts, so a check and its
// increment are a single atomic step and concurrent requests cannot overshoot
// a limit. MemoryStore offers the same semantics in process.
//
// When an AuditSink is configured (PgAudit writes the usage_tracking table),
// every successful increment is mirrored there. The mirror is best effort and
// never blocks counting.
package usage
