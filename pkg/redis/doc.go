// Package redis connects to Redis with retries and exposes KV, the small
// get/mget/mset/del/exists/keys/batch surface used by the usage ledger, the
// subscription cache and webhook dedup markers.
//
//	client, err := redis.Connect(ctx, cfg)
//	kv := redis.NewKV(client, cfg.ScanBatchSize)
//	_ = kv.Set(ctx, "user_subscription:u1", "pro", 0)
//
// Healthcheck returns a probe suitable for the /healthz endpoint.
package redis
