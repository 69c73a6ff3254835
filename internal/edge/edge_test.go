package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relay/internal/adapter"
	"github.com/relaybus/relay/internal/deadletter"
	"github.com/relaybus/relay/internal/delivery"
	"github.com/relaybus/relay/internal/endpoint"
	"github.com/relaybus/relay/internal/msgstore"
	"github.com/relaybus/relay/internal/store"
	"github.com/relaybus/relay/internal/subs"
	"github.com/relaybus/relay/internal/trace"
)

type harness struct {
	router chi.Router
	engine *delivery.Engine
}

func newHarness(t *testing.T, enabled bool) *harness {
	t.Helper()
	db, err := store.Open(store.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	messages := msgstore.New(db)
	endpoints := endpoint.New(db)
	deadLetts := deadletter.New(db)
	traces := trace.New(db, 7)
	bus := subs.New(250)
	engine := delivery.New(messages, endpoints, deadLetts, traces, bus, delivery.DefaultConfig())
	t.Cleanup(func() { engine.Shutdown(context.Background()) })

	adapters := adapter.New(db, engine, bus)
	bindings := adapter.NewBindingStore(db)

	srv := New(Deps{
		Engine:      engine,
		Messages:    messages,
		Endpoints:   endpoints,
		DeadLetters: deadLetts,
		Traces:      traces,
		Adapters:    adapters,
		Bindings:    bindings,
		Bus:         bus,
		Enabled:     enabled,
	})

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return &harness{router: r, engine: engine}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestFeatureGateReturns503WhenDisabled(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodGet, "/relay/messages", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPublishAndGetMessage(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(t, http.MethodPost, "/relay/messages", publishRequest{
		Subject: "relay.agent.worker",
		Payload: json.RawMessage(`{"task":"go"}`),
		From:    "relay.system.coordinator",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res publishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.MessageID)

	rec = h.do(t, http.MethodGet, "/relay/messages/"+res.MessageID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishInvalidSubjectReturns400(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(t, http.MethodPost, "/relay/messages", publishRequest{
		Subject: "",
		Payload: json.RawMessage(`{}`),
		From:    "relay.system.coordinator",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndpointRegisterListUnregister(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(t, http.MethodPost, "/relay/endpoints", registerEndpointRequest{Subject: "relay.agent.worker"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/relay/endpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var endpoints []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &endpoints))
	require.Len(t, endpoints, 1)

	rec = h.do(t, http.MethodDelete, "/relay/endpoints/relay.agent.worker", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdapterLifecycleViaHTTP(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(t, http.MethodPost, "/relay/adapters", addAdapterRequest{
		Type:    "webhook",
		ID:      "wh1",
		Config:  map[string]interface{}{"secret": "s3cr3t", "inboundSubject": "relay.adapter.webhook.wh1"},
		Enabled: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/relay/adapters/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/relay/adapters/wh1/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/relay/adapters/wh1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBindingCreateListDelete(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(t, http.MethodPost, "/relay/bindings", createBindingRequest{
		AdapterID: "wh1",
		AgentID:   "agent-1",
		AgentDir:  "/agents/one",
		Label:     "Support Agent",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var b map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	id, _ := b["id"].(string)
	require.NotEmpty(t, id)

	rec = h.do(t, http.MethodGet, "/relay/bindings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/relay/bindings/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsAndDeadLetters(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(t, http.MethodGet, "/relay/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/relay/dead-letters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationsEmptyLogReturnsEmptyList(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(t, http.MethodGet, "/relay/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "conversations")
}
