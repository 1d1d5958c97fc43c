package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-insteon/internal/bridges/insteon"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// handleHealth reports bridge health plus one entry per dependency check.
//
// The response is 200 while the bridge can still send commands (healthy or
// degraded) and every dependency answers, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	bridgeHealth := s.bridge.Health()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := bridgeHealth.Status == insteon.HealthHealthy || bridgeHealth.Status == insteon.HealthDegraded
	checks := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			ok = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !ok {
		status = http.StatusServiceUnavailable
		overall = "unavailable"
	}

	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"bridge":  bridgeHealth,
		"checks":  checks,
	})
}
