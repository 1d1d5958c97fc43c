// Package mqtt provides the broker connection for the Insteon bridge.
//
// The bridge uses MQTT for command intake (graylogic/command/insteon/...),
// acknowledgements and completion replies, retained device state, discovery
// announcements, health, and for reaching remote Insteon interfaces that are
// themselves attached to the bus.
//
// The client wraps paho.mqtt.golang with:
//   - auto-reconnect with backoff and subscription restoration
//   - Last Will and Testament on graylogic/system/status
//   - handler panic recovery
//   - publish validation (topic, QoS, payload size)
package mqtt
