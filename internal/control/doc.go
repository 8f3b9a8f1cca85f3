// Package control exposes a running daemon's sync engine to the CLI.
//
// The daemon serves a small gRPC service on a loopback port and records the
// address in daemon.json inside the application directory. Messages are
// plain Go structs carried by a JSON codec, so on-demand syncs from
// 'inboxd sync' share the daemon engine's throttle and per-account
// coalescing with its periodic loop.
package control
