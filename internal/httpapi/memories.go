package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/memvault/internal/integrator"
	"github.com/antoniostano/memvault/internal/memory"
)

type ingestRequest struct {
	RawText     string     `json:"raw_text"`
	SourceType  string     `json:"source_type"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	SkipActions bool       `json:"skip_actions,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.RawText) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "raw_text is required")
		return
	}
	in := integrator.Request{
		OwnerID:     ownerParam(r),
		RawText:     req.RawText,
		SourceType:  strings.TrimSpace(req.SourceType),
		SkipActions: req.SkipActions,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}
	res, err := s.integrator.IngestDetailed(r.Context(), in)
	if err != nil {
		s.respondVaultError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == integrator.OutcomeCreated {
		status = http.StatusCreated
	}
	respondJSON(w, status, res)
}

type queryResponse struct {
	Memories []memory.Record `json:"memories"`
	Count    int             `json:"count"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	opts, err := parseQueryOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	recs, err := s.vault.Query(r.Context(), ownerParam(r), opts)
	if err != nil {
		s.respondVaultError(w, r, err)
		return
	}
	if recs == nil {
		recs = []memory.Record{}
	}
	respondJSON(w, http.StatusOK, queryResponse{Memories: recs, Count: len(recs)})
}

func parseQueryOptions(r *http.Request) (memory.QueryOptions, error) {
	q := r.URL.Query()
	opts := memory.QueryOptions{Keyword: strings.TrimSpace(q.Get("q"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	for _, t := range splitList(q.Get("type")) {
		opts.MemoryTypes = append(opts.MemoryTypes, memory.MemoryType(strings.ToLower(t)))
	}
	opts.Emotions = splitList(q.Get("emotion"))
	for key, dst := range map[string]*float64{"min_importance": &opts.MinImportance, "min_score": &opts.MinScore} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("%s must be a number", key)
		}
		*dst = f
	}
	for key, dst := range map[string]*time.Time{"created_after": &opts.CreatedAfter, "created_before": &opts.CreatedBefore} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%s must be RFC3339", key)
		}
		*dst = t
	}
	return opts, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := s.vault.Get(r.Context(), ownerParam(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondVaultError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req memory.Authoritative
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	rec, err := s.vault.ReconcileConflicts(r.Context(), ownerParam(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondVaultError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type pruneRequest struct {
	// Retention is a Go duration such as "720h"; empty uses the configured period.
	Retention string `json:"retention"`
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	retention := s.cfg.RetentionPeriod
	if v := strings.TrimSpace(req.Retention); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "retention must be a positive duration")
			return
		}
		retention = d
	}
	n, err := s.vault.Prune(r.Context(), ownerParam(r), retention)
	if err != nil {
		s.respondVaultError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pruned": n, "retention": retention.String()})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	agg, err := s.vault.Preferences(r.Context(), ownerParam(r))
	if err != nil {
		s.respondVaultError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handlePatchPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs map[string]any
	if err := decodeJSON(r, &prefs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	agg, err := s.vault.UpdatePreferences(r.Context(), ownerParam(r), prefs)
	if err != nil {
		s.respondVaultError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agg)
}
