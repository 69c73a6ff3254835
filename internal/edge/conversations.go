package edge

import (
	"net/http"
	"sort"
	"strings"

	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/msgstore"
	"github.com/relaybus/relay/internal/subject"
)

const conversationsSnapshotPageCap = 50

var (
	requestPatterns  = []string{"relay.agent.>", "relay.system.>"}
	responsePattern  = "relay.human.console.>"
)

// conversationResponse is one response chunk joined to a request.
type conversationResponse struct {
	MessageID string          `json:"messageId"`
	Subject   string          `json:"subject"`
	Payload   interface{}     `json:"payload"`
	CreatedAt interface{}     `json:"createdAt"`
}

// conversation is the human-friendly exchange view SPEC_FULL.md §4's
// conversations projection reshapes the envelope log into.
type conversation struct {
	TraceID       string                  `json:"traceId"`
	RequestID     string                  `json:"requestId"`
	Subject       string                  `json:"subject"`
	From          string                  `json:"from"`
	Label         string                  `json:"label"`
	Payload       interface{}             `json:"payload"`
	Status        envelope.Status         `json:"status"`
	FailureReason string                  `json:"failureReason,omitempty"`
	Responses     []conversationResponse  `json:"responses"`
	CreatedAt     interface{}             `json:"createdAt"`
}

// handleConversations is a pure read-side projection over a snapshot of
// the envelope log; it writes nothing.
// It joins agent/system requests with their relay.human.console response
// chunks by traceId, labels each exchange via a subject resolver that
// consults the adapter catalog and binding store, and augments dead
// -lettered requests with their failure reason.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.snapshotMessages()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	byTrace := make(map[string][]*envelope.Envelope)
	for _, env := range snapshot {
		byTrace[env.TraceID] = append(byTrace[env.TraceID], env)
	}

	var conversations []conversation
	for traceID, envs := range byTrace {
		var request *envelope.Envelope
		var responses []*envelope.Envelope
		for _, env := range envs {
			if request == nil && matchesAny(requestPatterns, env.Subject) {
				request = env
				continue
			}
			if subject.Matches(responsePattern, env.Subject) {
				responses = append(responses, env)
			}
		}
		if request == nil {
			continue
		}

		sort.Slice(responses, func(i, j int) bool {
			return responses[i].CreatedAt.Before(responses[j].CreatedAt)
		})

		conv := conversation{
			TraceID:   traceID,
			RequestID: request.ID,
			Subject:   request.Subject,
			From:      request.From,
			Label:     s.resolveLabel(request.From),
			Payload:   request.Payload,
			Status:    request.Status,
			CreatedAt: request.CreatedAt,
		}
		for _, resp := range responses {
			conv.Responses = append(conv.Responses, conversationResponse{
				MessageID: resp.ID,
				Subject:   resp.Subject,
				Payload:   resp.Payload,
				CreatedAt: resp.CreatedAt,
			})
		}
		if request.Status == envelope.StatusDeadLetter || request.Status == envelope.StatusFailed {
			if rec, err := s.deadLetters.Get(request.ID); err == nil && rec != nil {
				conv.FailureReason = string(rec.Reason)
			}
		}
		conversations = append(conversations, conv)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].RequestID > conversations[j].RequestID
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

// snapshotMessages pages through the entire message store once, giving
// the projection a consistent point-in-time view of the log.
func (s *Server) snapshotMessages() ([]*envelope.Envelope, error) {
	var all []*envelope.Envelope
	cursor := ""
	for page := 0; page < conversationsSnapshotPageCap; page++ {
		result, err := s.messages.List(msgstore.ListQuery{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, result.Messages...)
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return all, nil
}

func matchesAny(patterns []string, subj string) bool {
	for _, p := range patterns {
		if subject.Matches(p, subj) {
			return true
		}
	}
	return false
}

// resolveLabel plays the role of SPEC_FULL.md §4's subject resolver: it
// consults the binding store (the "session reader") for a human label,
// falling back to the adapter catalog (the "manifest reader") for a
// display name when the subject names an adapter, and finally the bare
// subject when neither collaborator can resolve it.
func (s *Server) resolveLabel(from string) string {
	if bindings, err := s.bindings.List(); err == nil {
		for _, b := range bindings {
			if b.AgentID == from || b.AdapterID == from {
				if b.Label != "" {
					return b.Label
				}
				return b.AgentID
			}
		}
	}
	for _, entry := range s.adapters.GetCatalog() {
		if strings.Contains(from, entry.Manifest.Type) {
			return entry.Manifest.DisplayName
		}
	}
	return from
}
