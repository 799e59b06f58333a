// Package config loads and validates murmur's TOML configuration.
//
// Configuration is resolved from an explicit path, ~/.config/murmur/config.toml,
// or a project-local murmur.toml, in that order. Loaded values are normalized
// (path expansion, trimming) and validated before use. The master key may be
// supplied via the MURMUR_MASTER_KEY environment variable, which overrides the
// [security] section.
package config
