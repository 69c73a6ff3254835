package edge

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaybus/relay/internal/delivery"
	"github.com/relaybus/relay/internal/msgstore"
)

type publishRequest struct {
	Subject string           `json:"subject"`
	Payload json.RawMessage  `json:"payload"`
	From    string           `json:"from"`
	ReplyTo string           `json:"replyTo,omitempty"`
	Budget  *publishBudgetDTO `json:"budget,omitempty"`
}

type publishBudgetDTO struct {
	MaxHops uint8  `json:"maxHops"`
	TTLMs   uint32 `json:"ttlMs"`
}

type publishResponse struct {
	MessageID   string `json:"messageId"`
	DeliveredTo uint   `json:"deliveredTo"`
	TraceID     string `json:"traceId"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "malformed request body")
		return
	}

	opts := delivery.PublishOptions{From: req.From, ReplyTo: req.ReplyTo}
	if req.Budget != nil {
		opts.Budget.MaxHops = req.Budget.MaxHops
		opts.Budget.TTLMs = req.Budget.TTLMs
	}

	res, err := s.engine.Publish(r.Context(), req.Subject, req.Payload, opts)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publishResponse{MessageID: res.MessageID, DeliveredTo: res.DeliveredTo, TraceID: res.TraceID})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := msgstore.ListQuery{
		Subject: q.Get("subject"),
		Status:  q.Get("status"),
		From:    q.Get("from"),
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

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	env, err := s.messages.Get(id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if env == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "message not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type traceResponse struct {
	TraceID string      `json:"traceId"`
	Spans   interface{} `json:"spans"`
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	env, err := s.messages.Get(id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if env == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "message not found: "+id)
		return
	}
	spans, err := s.traces.GetTrace(env.TraceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, traceResponse{TraceID: env.TraceID, Spans: spans})
}

func (s *Server) handleTraceMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.traces.GetMetrics()
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}
