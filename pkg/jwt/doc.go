// Package jwt verifies session tokens issued by the identity provider and
// exposes their claims to request handlers.
//
// Tokens are verified with github.com/golang-jwt/jwt/v5. Production sessions
// are RS256 tokens checked against the provider's PEM public key; HS256 with a
// shared secret is accepted for local development and tests, where Service can
// also mint tokens.
//
// # Architecture
//
//   - Service parses and validates tokens into Claims.
//   - Middleware extracts a token from the Authorization header or the session
//     cookie and stores the verified Claims in the request context.
//   - ClaimsFromContext and UserID read them back.
//
// # Usage
//
//	svc, err := jwt.New(cfg)
//	if err != nil {
//		return err
//	}
//	r.Use(jwt.Middleware(svc))
//
//	// later, in a handler
//	userID := jwt.UserID(r.Context())
//
// Requests without a token pass through unauthenticated; requests with an
// invalid token are rejected with 401.
package jwt
