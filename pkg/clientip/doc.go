// Package clientip resolves the originating client address of a request
// served behind proxies and carries it through the request context so log
// records can include it.
//
// Resolution order: the configured trusted headers (CF-Connecting-IP,
// X-Forwarded-For and X-Real-IP by default), then RemoteAddr. For
// X-Forwarded-For the left-most valid entry wins.
package clientip
