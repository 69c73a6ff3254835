package edge

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type addAdapterRequest struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	Config  map[string]interface{} `json:"config"`
	Enabled bool                   `json:"enabled,omitempty"`
}

type addAdapterResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.adapters.List())
}

func (s *Server) handleAdapterCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.adapters.GetCatalog())
}

func (s *Server) handleAddAdapter(w http.ResponseWriter, r *http.Request) {
	var req addAdapterRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "malformed request body")
		return
	}
	if _, err := s.adapters.Add(r.Context(), req.Type, req.ID, req.Config, req.Enabled); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addAdapterResponse{OK: true, ID: req.ID})
}

func (s *Server) handleGetAdapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.adapters.Status(id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRemoveAdapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.adapters.Remove(id); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type updateAdapterConfigRequest struct {
	Config map[string]interface{} `json:"config"`
}

func (s *Server) handleUpdateAdapterConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateAdapterConfigRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "malformed request body")
		return
	}
	if _, err := s.adapters.UpdateConfig(r.Context(), id, req.Config); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleEnableAdapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.adapters.Enable(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleDisableAdapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.adapters.Disable(id); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type testAdapterRequest struct {
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config"`
}

func (s *Server) handleTestAdapter(w http.ResponseWriter, r *http.Request) {
	var req testAdapterRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "malformed request body")
		return
	}
	if err := s.adapters.TestConnection(req.Type, req.Config); err != nil {
		writeJSON(w, http.StatusOK, okResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleReloadAdapters(w http.ResponseWriter, r *http.Request) {
	if err := s.adapters.Reload(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
