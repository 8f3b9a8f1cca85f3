// Package database records sync outcomes in an embedded BoltDB file.
//
// Two buckets are kept:
//
//   - status: email -> [Status] JSON, the latest result for each account
//     together with a consecutive failure counter and a persistent error flag
//   - cycles: sequence -> [Cycle] JSON, a bounded history of sync cycles
//
// The database file is opened for the duration of a single transaction and
// closed again, so the CLI can read status while the daemon keeps writing.
//
// Use [Open] to obtain a handle for a path, or [GetDB] for the default file
// in the application directory:
//
//	statuses, err := database.GetDB().ListStatuses()
package database
