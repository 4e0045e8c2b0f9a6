// Package studio is the metered generation gateway.
//
// Every route consumes quota through ratelimiter.Middleware before the
// request body is even read. The handler then calls the image model and, for
// image results, uploads the bytes to object storage. Whatever fails after
// the quota was taken (validation, the model, the upload) gives the units
// back, unless the limiter was failing open and nothing was counted.
package studio
