package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-insteon/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxQueryParamLen    = 128
)

// handleListDevices returns all devices.
//
// Query parameters:
//   - gateway_id: only devices owned by this gateway
//   - type: only devices of this type (insteon_lamp, insteon_appliance)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	gatewayID := r.URL.Query().Get("gateway_id")
	devType := r.URL.Query().Get("type")
	if gatewayID != "" || devType != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if gatewayID != "" && d.GatewayID != gatewayID {
				continue
			}
			if devType != "" && d.Type != devType {
				continue
			}
			filtered = append(filtered, d)
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.GetStats())
}

// handleGetDeviceHistory returns state history entries for a device,
// newest first.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	if s.history == nil {
		writeUnavailable(w, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), dev.ID, limit)
	if err != nil {
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"history":   entries,
		"count":     len(entries),
	})
}

// lookupDevice resolves the {id} URL parameter, writing the error response
// itself when the device cannot be returned.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return nil, false
	}

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
