// Error response helpers and the relayerr.Code -> HTTP status dispatch
// table, following the writeJSON/writeError/handleServiceError triage
// pattern of aquamarinepk-aqm's auth/handler/response.go — the kernel's
// error kinds play the role that package's auth.Err* sentinels play.
package edge

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaybus/relay/internal/relayerr"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// handleServiceError maps a relayerr.Error (or any error) to the HTTP
// status and stable code string SPEC_FULL.md §7 specifies.
func handleServiceError(w http.ResponseWriter, err error) {
	var rerr *relayerr.Error
	if errors.As(err, &rerr) {
		status := statusFor(rerr.Code)
		writeError(w, status, string(rerr.Code), rerr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, string(relayerr.StorageError), "internal server error")
}

func statusFor(code relayerr.Code) int {
	switch code {
	case relayerr.InvalidSubject, relayerr.SchemaViolation,
		relayerr.RemoveBuiltinDenied, relayerr.MultiInstanceDenied, relayerr.ConfigInvalid,
		relayerr.UnknownType, relayerr.InvalidTransition:
		return http.StatusBadRequest
	case relayerr.DuplicateID, relayerr.DuplicateEndpoint, relayerr.DuplicateType:
		return http.StatusConflict
	case relayerr.NotFound:
		return http.StatusNotFound
	case relayerr.SessionLocked:
		return http.StatusConflict
	case relayerr.FeatureDisabled:
		return http.StatusServiceUnavailable
	case relayerr.Unauthorized:
		return http.StatusUnauthorized
	case relayerr.PublishFailed, relayerr.StorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
