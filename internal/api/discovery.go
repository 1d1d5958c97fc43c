package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-insteon/internal/device"
)

// discoveredDevice is a seen address annotated with registry membership.
type discoveredDevice struct {
	device.SeenDevice
	Registered bool   `json:"registered"`
	DeviceID   string `json:"device_id,omitempty"`
}

// handleListDiscovery returns addresses heard on the bus, most recent
// first. Addresses that have since been commissioned are marked registered.
func (s *Server) handleListDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.seen == nil {
		writeUnavailable(w, "discovery store unavailable")
		return
	}

	seen, err := s.seen.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list discovered devices")
		return
	}

	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	byAddress := make(map[string]string, len(devices))
	for _, d := range devices {
		byAddress[d.Address] = d.ID
	}

	out := make([]discoveredDevice, 0, len(seen))
	unregistered := 0
	for _, sd := range seen {
		id, ok := byAddress[sd.Address]
		if !ok {
			unregistered++
		}
		out = append(out, discoveredDevice{SeenDevice: sd, Registered: ok, DeviceID: id})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":      out,
		"count":        len(out),
		"unregistered": unregistered,
	})
}

// handleForgetDiscovery removes a seen address.
func (s *Server) handleForgetDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.seen == nil {
		writeUnavailable(w, "discovery store unavailable")
		return
	}

	address := chi.URLParam(r, "address")
	if err := s.seen.Forget(r.Context(), address); err != nil {
		if errors.Is(err, device.ErrInvalidAddress) {
			writeBadRequest(w, "invalid address")
			return
		}
		writeInternalError(w, "failed to forget address")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
