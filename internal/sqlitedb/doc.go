// Package sqlitedb holds the SQLite plumbing shared by the task store and the
// job queue: connection setup, embedded migrations, and SQLITE_BUSY retries.
package sqlitedb
