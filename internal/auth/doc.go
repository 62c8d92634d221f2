// Package auth verifies bearer tokens on the control API.
//
// Tokens are JWTs signed HS256 (shared secret) or RS256 (PEM public key)
// carrying "sub", "roles" and "scopes" claims. Scopes map to route groups:
// read, control, telemetry.
package auth
