package edge

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaybus/relay/internal/relayerr"
)

// handleWebhook serves POST /webhooks/:adapterId: raw bytes in, {ok} or a
// 401 out. Signature/parse failures from the adapter's own handleInbound
// are not relayerr.Errors (they are the adapter's private auth failure),
// so anything that isn't a recognized kernel error collapses to 401
// rather than leaking adapter-internal error text as a 500.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "adapterId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "failed to read request body")
		return
	}

	_, err = s.adapters.HandleInbound(r.Context(), id, body, r.Header)
	if err != nil {
		var rerr *relayerr.Error
		if errors.As(err, &rerr) {
			handleServiceError(w, err)
			return
		}
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
