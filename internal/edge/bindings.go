package edge

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaybus/relay/internal/adapter"
)

type createBindingRequest struct {
	AdapterID       string                 `json:"adapterId"`
	AgentID         string                 `json:"agentId"`
	AgentDir        string                 `json:"agentDir"`
	SessionStrategy adapter.SessionStrategy `json:"sessionStrategy"`
	Label           string                 `json:"label,omitempty"`
}

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.bindings.List()
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

func (s *Server) handleCreateBinding(w http.ResponseWriter, r *http.Request) {
	var req createBindingRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "malformed request body")
		return
	}
	if req.SessionStrategy == "" {
		req.SessionStrategy = adapter.SessionPerChat
	}

	b := adapter.Binding{
		ID:              uuid.Must(uuid.NewV7()).String(),
		AdapterID:       req.AdapterID,
		AgentID:         req.AgentID,
		AgentDir:        req.AgentDir,
		SessionStrategy: req.SessionStrategy,
		Label:           req.Label,
	}
	if err := s.bindings.Create(b); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.bindings.Delete(id); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
