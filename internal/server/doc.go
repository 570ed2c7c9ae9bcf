// Package server implements the multi-room chat service core.
//
// The implementation is organized into specialized files for configuration,
// the session table and state machine, the room registry with its multicast
// lifecycle, the connection dispatcher and per-session workers, message
// handlers, and the optional operations monitor.
//
// Two locks guard the shared state, one per table. Any path that needs both
// acquires the session lock first, then the room lock, always in that order.
// The multicast publisher is written outside any lock.
package server
