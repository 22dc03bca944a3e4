// Package storage persists the lifecycle operation history and the
// monitor's alert suppression windows.
//
// Two drivers are available. "file" keeps one JSON Lines action log per
// service under <path>/actions and the alert windows in <path>/alerts.json.
// "bolt" keeps both in a bbolt file, one nested bucket per service. "sqlite"
// keeps them in a SQLite database and is only compiled in with -tags sqlite.
package storage
