package edge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/subs"
)

const (
	streamKeepalive  = 15 * time.Second
	streamBufferSize = 64
)

type streamEvent struct {
	name string
	data interface{}
	id   string
}

// handleStream serves GET /stream: an SSE feed of envelope deliveries and
// bus signals matching an optional subject pattern, per SPEC_FULL.md §6's
// event set. Each connection gets its own bounded channel; a slow client
// drops its oldest buffered event rather than blocking the publisher.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "streaming unsupported")
		return
	}

	pattern := r.URL.Query().Get("subject")
	if pattern == "" {
		pattern = ">"
	}

	events := make(chan streamEvent, streamBufferSize)
	send := func(ev streamEvent) {
		select {
		case events <- ev:
		default:
			select {
			case <-events:
			default:
			}
			select {
			case events <- ev:
			default:
			}
		}
	}

	cancelMsg, err := s.bus.Subscribe(pattern, func(env *envelope.Envelope) error {
		send(streamEvent{name: "relay_message", data: env, id: env.ID})
		return nil
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SUBJECT", err.Error())
		return
	}
	defer cancelMsg()

	cancelSig, err := s.bus.OnSignal(pattern, func(sig subs.Signal) {
		name := "relay_signal"
		if sig.Type == "backpressure" {
			name = "relay_backpressure"
		}
		send(streamEvent{name: name, data: sig})
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SUBJECT", err.Error())
		return
	}
	defer cancelSig()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, streamEvent{name: "relay_connected", data: map[string]interface{}{
		"pattern":     pattern,
		"connectedAt": time.Now().UTC(),
	}})
	flusher.Flush()

	ticker := time.NewTicker(streamKeepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			writeSSE(w, ev)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streamEvent) {
	data, err := json.Marshal(ev.data)
	if err != nil {
		return
	}
	if ev.id != "" {
		fmt.Fprintf(w, "id: %s\n", ev.id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data)
}
