package edge

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaybus/relay/internal/msgstore"
)

type registerEndpointRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.endpoints.List()
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (s *Server) handleRegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req registerEndpointRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "malformed request body")
		return
	}
	ep, err := s.endpoints.Register(req.Subject, req.Description)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleUnregisterEndpoint(w http.ResponseWriter, r *http.Request) {
	subj := chi.URLParam(r, "subject")
	ok, err := s.endpoints.Unregister(subj)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (s *Server) handleEndpointInbox(w http.ResponseWriter, r *http.Request) {
	subj := chi.URLParam(r, "subject")
	q := r.URL.Query()
	query := msgstore.ListQuery{
		Subject: subj,
		Status:  q.Get("status"),
		Cursor:  q.Get("cursor"),
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			query.Limit = n
		}
	}
	result, err := s.messages.List(query)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
