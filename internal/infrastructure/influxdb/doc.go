// Package influxdb records Insteon level history and command outcomes.
//
// Writes are non-blocking (batched by the client library); a slow or absent
// InfluxDB never delays command handling. Measurements:
//
//	insteon_level    tags: device_id, address, source      fields: level
//	insteon_command  tags: device_id, address, command, state  fields: latency_ms
package influxdb
