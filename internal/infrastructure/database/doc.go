// Package database provides the SQLite store used by the Insteon bridge.
//
// It holds the device directory (address, type, owning gateway, last known
// state) and the discovery log of unknown addresses heard on the Insteon
// network. Schema changes are applied from versioned migration files
// (YYYYMMDD_HHMMSS_description.up.sql / .down.sql), each in its own
// transaction.
package database
