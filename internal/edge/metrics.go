package edge

import "net/http"

// kernelMetrics is the "kernel counters" response the route table names
// for GET /metrics: the subscription bus's lifetime delivery counters
// alongside the registry's endpoint count.
type kernelMetrics struct {
	TotalPublished int64 `json:"totalPublished"`
	TotalDelivered int64 `json:"totalDelivered"`
	TotalDropped   int64 `json:"totalDropped"`
	EndpointCount  int   `json:"endpointCount"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	published, delivered, dropped := s.bus.Stats()

	endpoints, err := s.endpoints.List()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, kernelMetrics{
		TotalPublished: published,
		TotalDelivered: delivered,
		TotalDropped:   dropped,
		EndpointCount:  len(endpoints),
	})
}
