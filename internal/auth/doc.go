// Package auth protects the gateway HTTP API with JWT bearer tokens.
//
// # Tokens
//
// Tokens are HS256-signed with the configured auth.jwt_secret. Each token
// carries the gateway issuer, a subject naming the caller and an expiry:
//
//	v, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := v.Generate("alice", 24*time.Hour)
//	subject, err := v.Verify(token)
//
// The "token" CLI subcommand mints tokens for operators.
//
// # Middleware
//
// RequireToken wraps an http.Handler. Requests must present
// "Authorization: Bearer <token>" unless their path starts with one of the
// public prefixes (the health probes). The verified subject is attached to
// the request context and can be read with CallerFrom.
//
// When no secret is configured the gateway passes a nil verifier and the
// middleware is a no-op, which suits local single-user setups.
package auth
