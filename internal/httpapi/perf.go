package httpapi

import "net/http"

func (s *Server) handlePerfIngest(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.IngestStageSnapshot())
}
