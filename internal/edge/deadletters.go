package edge

import (
	"net/http"
	"strconv"

	"github.com/relaybus/relay/internal/deadletter"
)

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	hashParam := r.URL.Query().Get("endpointHash")
	if hashParam == "" {
		records, err := s.deadLetters.List()
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	hash, err := strconv.ParseUint(hashParam, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "endpointHash must be a uint64")
		return
	}
	var records []*deadletter.Record
	records, err = s.deadLetters.ListByTarget(hash)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
