// Package t2u implements a reliable byte-stream tunnel multiplexed over a
// single UDP socket pair. A Context owns one UDP socket and one peer; Rules
// bind named services to local TCP endpoints, in either direction: a
// RoleClient rule listens on a local TCP port and forwards each accepted
// connection to the peer under a service name, a RoleServer rule dials a
// local TCP endpoint on demand when the peer asks to open that service.
// Every accepted or dialed TCP connection becomes a Session: a small
// sliding-window ARQ stream carried as DATA/ACK packets between the two
// peers' Contexts.
//
// A Context runs its own goroutine (the reactor) that owns all mutable
// session and rule state; the public API (AddRule, Rule.Remove, SetOption,
// ForwardSend) is safe to call from any goroutine and is serialized onto
// the reactor through request channels or, for ForwardSend, a shared send
// mutex.
package t2u
