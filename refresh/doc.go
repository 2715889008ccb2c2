// Package refresh stores opaque refresh tokens in a TTL cache.
//
// # Storage layout
//
// Each user has at most one live token. The forward record lives at
// auth:refresh_token:{userID} and a reverse index from token hash to user id
// lives at auth:refresh_reverse:{hash}, both with the refresh lifetime as
// TTL. Only the base64 SHA-256 hash of a token is ever written.
//
// The two writes are not atomic. Validation therefore always re-reads the
// forward record and compares hashes before trusting a reverse-index hit, so
// orphaned or superseded reverse entries never validate.
package refresh
