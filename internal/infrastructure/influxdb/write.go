package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementLevel   = "insteon_level"
	measurementCommand = "insteon_command"
)

// WriteLevel records a normalized device level (0-100) and who caused it.
// source is the requester of a matched command or "external".
func (c *Client) WriteLevel(deviceID, address string, level float64, source string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(levelPoint(deviceID, address, level, source, at))
}

// WriteCommandOutcome records a finalized command and how long it took.
func (c *Client) WriteCommandOutcome(deviceID, address, command, state string, latency time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(deviceID, address, command, state, latency, at))
}

func levelPoint(deviceID, address string, level float64, source string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementLevel,
		map[string]string{
			"device_id": deviceID,
			"address":   address,
			"source":    source,
		},
		map[string]any{
			"level": level,
		},
		at,
	)
}

func commandPoint(deviceID, address, command, state string, latency time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		measurementCommand,
		map[string]string{
			"device_id": deviceID,
			"address":   address,
			"command":   command,
			"state":     state,
		},
		map[string]any{
			"latency_ms": latency.Milliseconds(),
		},
		at,
	)
}
