// Package logging wires log/slog with murmur's console and JSON handlers.
//
// The console handler renders a compact single-line format with the component
// name promoted ahead of the message. The JSON handler emits machine-readable
// records with normalized key names. Standardized field keys live in
// context.go; attribute constructors in attrs.go keep call sites terse.
package logging
