// Package audit relays security events to a sink from a single background
// goroutine so that flows never wait on slow sinks.
//
// The package decides nothing about which events exist; the engine names and
// emits them.
package audit
