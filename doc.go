// Package authguard is the authentication core of the storefront backend:
// credential verification, JWT access tokens, rotating opaque refresh
// tokens, email confirmation and password reset tokens, and brute-force
// protection, all over a TTL key-value cache.
//
// An [Engine] is assembled once with [Builder] and is safe for concurrent
// use. Callers supply a [UserProvider] for account persistence; everything
// else lives in the cache.
//
// # Request context
//
// The current principal and client address travel explicitly through
// context.Context via [WithPrincipal] and [WithClientIP]. Nothing is stored
// in package-level state.
//
// # Failure policy
//
// Admission decisions fail open when the cache is unavailable so that an
// outage never locks users out. Every state mutation propagates cache
// failures to the caller.
package authguard
