package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-insteon/internal/bridges/insteon"
	"github.com/nerrad567/gray-logic-insteon/internal/device"
)

// SystemMetrics is the JSON summary served on /api/v1/metrics. The full
// Prometheus exposition lives on /metrics.
type SystemMetrics struct {
	Timestamp     string                `json:"timestamp"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Runtime       RuntimeMetrics        `json:"runtime"`
	WebSocket     WSMetrics             `json:"websocket"`
	Bridge        insteon.BridgeMetrics `json:"bridge"`
	Devices       device.Stats          `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleMetrics returns a JSON system summary.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / (1 << 20),
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Bridge:    s.bridge.GetMetrics(),
		Devices:   s.devices.GetStats(),
	})
}
