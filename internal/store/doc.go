// Package store persists accounts in a TOML file in the application
// directory.
//
// The file carries a format version and one table per account:
//
//	version = "1.0"
//
//	[[accounts]]
//	type = "gmail"
//	email = "me@gmail.com"
//	display_name = "Me"
//	access_token = "encrypted:..."
//	refresh_token = "encrypted:..."
//	expires_at = 2026-03-01T12:00:00Z
//	is_active = true
//
// # Store Interface
//
// The [Store] interface exposes the three operations the token manager and
// the sync engine depend on (LoadAccounts, SaveAccounts, SaveAccount) plus
// lookup and removal used by the CLI.
//
// Every write rewrites the whole file through a temporary file and rename.
// Writers within a process are serialized; across processes the last writer
// wins.
//
// # Singleton Pattern
//
// Use [GetStore] to obtain the store rooted at the application directory:
//
//	accounts, err := store.GetStore().LoadAccounts()
package store
