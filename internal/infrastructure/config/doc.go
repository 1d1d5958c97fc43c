// Package config loads the Insteon bridge service configuration.
//
// Configuration is read from a YAML file, then overridden by environment
// variables prefixed with INSTEONBRIDGE_, then validated. Every validation
// problem is reported at once so a broken file can be fixed in one pass.
//
// The Insteon-specific bridge settings (interfaces, device types,
// reconciliation window) live in a separate file referenced by
// insteon.config_file and are loaded by the insteon package.
package config
