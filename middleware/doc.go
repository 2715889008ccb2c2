// Package middleware adapts authguard to net/http.
//
// # Handlers
//
//   - [ClientIP] records the caller address for login rate limiting and
//     audit events.
//   - [Guard] resolves the bearer token into an authguard.Principal.
//   - [RequireRole] rejects principals without one of the given roles.
//
// This package translates HTTP semantics into Engine calls. Token parsing
// and validation stay in the engine.
package middleware
