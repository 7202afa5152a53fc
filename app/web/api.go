package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/calcn/app/calc"
	"github.com/umputun/calcn/app/host"
	"github.com/umputun/calcn/app/web/persistence"
)

// calculateResponse is the JSON response for /api/calculate
type calculateResponse struct {
	Result    float64             `json:"result"`
	Operation *persistence.Record `json:"operation,omitempty"`
	Warning   string              `json:"warning,omitempty"`
}

// debugResponse is returned instead of normal processing for ?debug=1 requests
type debugResponse struct {
	Debug          bool              `json:"debug"`
	Method         string            `json:"method,omitempty"`
	Query          map[string]string `json:"query,omitempty"`
	Body           any               `json:"body,omitempty"`
	HasPool        bool              `json:"hasPool"`
	DatabaseURLSet bool              `json:"databaseUrlSet"`
}

// statusResponse is the JSON response for /api/v1/status
type statusResponse struct {
	Version        string              `json:"version"`
	HasPool        bool                `json:"has_pool"`
	DatabaseURLSet bool                `json:"database_url_set"`
	Store          *persistence.Status `json:"store,omitempty"`
	Host           host.Info           `json:"host"`
	Uptime         string              `json:"uptime"`
	Timestamp      time.Time           `json:"timestamp"`
}

// handleCalculate computes the result and records it when store is available.
// Store failures never fail the request, the result is returned with a warning.
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.isDebug(r) {
		query := make(map[string]string, len(r.URL.Query()))
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		s.writeJSON(w, http.StatusOK, debugResponse{Debug: true, Method: r.Method, Query: query,
			Body: debugBody(body), HasPool: s.store != nil, DatabaseURLSet: s.databaseURLSet})
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := calc.ParseRequest(body)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := calc.Calculate(req.A, req.B, req.Op)
	if err != nil {
		if !errors.Is(err, calc.ErrInvalidInput) {
			log.Printf("[WARN] unexpected calculation error: %v", err)
		}
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.store == nil {
		s.writeJSON(w, http.StatusOK, calculateResponse{Result: result})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.saveTimeout)
	defer cancel()
	rec, err := s.store.Add(ctx, persistence.Record{A: req.A, B: req.B, Op: req.Op, Result: result})
	if err != nil {
		log.Printf("[WARN] failed to save operation %v %s %v: %v", req.A, req.Op, req.B, err)
		s.writeJSON(w, http.StatusOK, calculateResponse{Result: result, Warning: "saved failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, calculateResponse{Result: result, Operation: &rec})
}

// handleHistory returns up to HistoryLimit recent records, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.isDebug(r) {
		s.writeJSON(w, http.StatusOK, debugResponse{Debug: true, HasPool: s.store != nil, DatabaseURLSet: s.databaseURLSet})
		return
	}

	if s.store == nil {
		s.writeJSON(w, http.StatusOK, []persistence.Record{})
		return
	}

	recs, err := s.store.List(r.Context(), HistoryLimit)
	if err != nil {
		log.Printf("[ERROR] failed to fetch history: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to fetch history")
		return
	}
	if recs == nil {
		recs = []persistence.Record{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}

// handleStatus returns JSON with store and host status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:        s.version,
		HasPool:        s.store != nil,
		DatabaseURLSet: s.databaseURLSet,
		Uptime:         time.Since(s.startedAt).Truncate(time.Second).String(),
		Timestamp:      time.Now(),
	}

	if s.store != nil {
		st := s.store.Status(r.Context())
		resp.Store = &st
	}

	info, err := host.Collect(r.Context(), "/")
	if err != nil {
		log.Printf("[DEBUG] partial host metrics: %v", err)
	}
	resp.Host = info

	s.writeJSON(w, http.StatusOK, resp)
}

// handleSchema returns JSON schema of the calculate request body
func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, calc.Schema())
}

// isDebug reports whether the request asks for diagnostics and they are enabled
func (s *Server) isDebug(r *http.Request) bool {
	if !s.debugParams {
		return false
	}
	v := r.URL.Query().Get("debug")
	return v == "1" || v == "true"
}

// debugBody returns parsed JSON body, or raw text if body is not JSON
func debugBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
