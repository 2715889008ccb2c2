// Package internal holds helpers that are private to authguard: opaque
// token generation and hashing shared by the refresh and action-token
// stores.
//
// # Sub-packages
//
//   - audit: asynchronous event dispatch (Dispatcher and Sink implementations)
//   - logging: slog setup and error logging with oops context
//   - cachetest: Redis and miniredis fixtures for tests
package internal
