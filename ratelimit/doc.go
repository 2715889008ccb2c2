// Package ratelimit counts failed attempts per identifier and blocks
// identifiers that keep failing.
//
// Each identifier moves through Clear, Counting(n) and Blocked. The counter
// lives at auth:login_attempts:{id} and expires one window after the last
// increment; a block record at auth:blocked:{id} expires after the block
// duration and always wins over the counter.
//
// Admission checks fail open: if the cache cannot be read the caller is let
// through and the event is logged. Writes fail loudly.
package ratelimit
