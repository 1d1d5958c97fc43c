package api

import "net/http"

// handleListInterfaces returns every candidate interface with its priority
// and health, plus the name of the active one.
func (s *Server) handleListInterfaces(w http.ResponseWriter, _ *http.Request) {
	statuses := s.bridge.Interfaces()

	active := ""
	for _, st := range statuses {
		if st.Active {
			active = st.Name
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"interfaces": statuses,
		"active":     active,
		"count":      len(statuses),
	})
}

// handleSelectInterface forces a reselection. It answers 503 when no
// interface is healthy.
func (s *Server) handleSelectInterface(w http.ResponseWriter, _ *http.Request) {
	active := s.bridge.SelectInterface()
	if active == "" {
		writeUnavailable(w, "no healthy interface")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}
