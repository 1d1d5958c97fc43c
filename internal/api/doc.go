// Package api implements the HTTP REST API and WebSocket stream for the
// Insteon bridge.
//
// This package provides:
//   - Device listing, state history and discovered (unregistered) addresses
//   - Command submission and command status lookup
//   - Interface status and forced reselection
//   - A WebSocket hub relaying state, ack and health messages from MQTT
//   - Prometheus exposition on /metrics
//
// # Architecture
//
// The API sits beside the MQTT command topic as a second way in. Commands
// submitted over HTTP go through the same bridge path as MQTT commands, so
// acks and state messages are published for both. The WebSocket hub does not
// talk to the bridge directly; it subscribes to the bridge's own MQTT output.
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB. History, discovery and the
// event stream report 503 when their backing store is not configured.
package api
