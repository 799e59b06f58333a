// Package meetings persists meeting lifecycle state, wrapped data keys, and
// the tamper-evident revision history in SQLite.
package meetings
