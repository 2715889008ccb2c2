// Package actiontoken stores short-lived single-purpose tokens such as email
// confirmation and password reset links.
//
// Both families share one store parameterised by a policy: the key family,
// the TTL and whether a successful validation consumes the token. Only the
// SHA-256 hash of a token is persisted.
package actiontoken
