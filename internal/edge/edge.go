// Package edge is the HTTP/SSE edge of SPEC_FULL.md §4.8/§6: a thin
// translator between REST/SSE and the kernel's internal packages.
// Router convention follows aquamarinepk-aqm's handler.RegisterRoutes(r
// chi.Router) pattern.
package edge

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaybus/relay/internal/adapter"
	"github.com/relaybus/relay/internal/deadletter"
	"github.com/relaybus/relay/internal/delivery"
	"github.com/relaybus/relay/internal/endpoint"
	"github.com/relaybus/relay/internal/msgstore"
	"github.com/relaybus/relay/internal/subs"
	"github.com/relaybus/relay/internal/trace"
)

// Server is the HTTP/SSE edge, holding references to every kernel
// collaborator it translates requests into calls against.
type Server struct {
	engine      *delivery.Engine
	messages    *msgstore.Store
	endpoints   *endpoint.Registry
	deadLetters *deadletter.Store
	traces      *trace.Store
	adapters    *adapter.Manager
	bindings    *adapter.BindingStore
	bus         *subs.Bus

	enabled bool
}

// Deps bundles the Server's kernel collaborators.
type Deps struct {
	Engine      *delivery.Engine
	Messages    *msgstore.Store
	Endpoints   *endpoint.Registry
	DeadLetters *deadletter.Store
	Traces      *trace.Store
	Adapters    *adapter.Manager
	Bindings    *adapter.BindingStore
	Bus         *subs.Bus
	Enabled     bool
}

func New(deps Deps) *Server {
	return &Server{
		engine:      deps.Engine,
		messages:    deps.Messages,
		endpoints:   deps.Endpoints,
		deadLetters: deps.DeadLetters,
		traces:      deps.Traces,
		adapters:    deps.Adapters,
		bindings:    deps.Bindings,
		bus:         deps.Bus,
		enabled:     deps.Enabled,
	}
}

// RegisterRoutes mounts every route in SPEC_FULL.md §6's table under
// /relay, gated by the feature flag per §6's environment note.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/relay", func(r chi.Router) {
		r.Use(s.featureGate)

		r.Post("/messages", s.handlePublish)
		r.Get("/messages", s.handleListMessages)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Get("/messages/{id}/trace", s.handleGetTrace)
		r.Get("/trace/metrics", s.handleTraceMetrics)
		r.Get("/conversations", s.handleConversations)

		r.Get("/endpoints", s.handleListEndpoints)
		r.Post("/endpoints", s.handleRegisterEndpoint)
		r.Delete("/endpoints/{subject}", s.handleUnregisterEndpoint)
		r.Get("/endpoints/{subject}/inbox", s.handleEndpointInbox)

		r.Get("/dead-letters", s.handleListDeadLetters)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/stream", s.handleStream)

		r.Get("/adapters/catalog", s.handleAdapterCatalog)
		r.Get("/adapters", s.handleListAdapters)
		r.Post("/adapters", s.handleAddAdapter)
		r.Get("/adapters/{id}", s.handleGetAdapter)
		r.Delete("/adapters/{id}", s.handleRemoveAdapter)
		r.Patch("/adapters/{id}/config", s.handleUpdateAdapterConfig)
		r.Post("/adapters/{id}/enable", s.handleEnableAdapter)
		r.Post("/adapters/{id}/disable", s.handleDisableAdapter)
		r.Post("/adapters/test", s.handleTestAdapter)
		r.Post("/adapters/reload", s.handleReloadAdapters)

		r.Get("/bindings", s.handleListBindings)
		r.Post("/bindings", s.handleCreateBinding)
		r.Delete("/bindings/{id}", s.handleDeleteBinding)

		r.Post("/webhooks/{adapterId}", s.handleWebhook)
	})
}

// featureGate returns 503 for every /relay/* route when the kernel is
// disabled, per SPEC_FULL.md §6's "one feature-gate flag" note.
func (s *Server) featureGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.enabled {
			writeError(w, http.StatusServiceUnavailable, "FEATURE_DISABLED", "relay kernel is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}
