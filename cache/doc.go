// Package cache defines the TTL key-value contract the security stores are
// built on, plus two implementations: [Redis] (go-redis v9, used in
// production) and [Memory] (in-process, for tests and single-node tooling).
//
// # Contract
//
// Every value is written with a TTL. Reads of a missing or expired key return
// [ErrNotFound]; backend failures are wrapped so that errors.Is(err,
// [ErrUnavailable]) holds. Callers decide per operation whether an outage
// fails open or is propagated.
//
// Multi-key writes ([Cache.SetMany]) are pipelined, not transactional.
//
// # What this package must NOT do
//
//   - Interpret stored values beyond the JSON helpers.
//   - Retry failed commands; retry policy belongs to the client configuration.
package cache
