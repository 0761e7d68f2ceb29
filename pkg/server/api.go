package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/prompts"
)

const maxBodyBytes = 1 << 20

type queryRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

type sandboxRequest struct {
	Code string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": map[string]string{"message": message}})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if !allowedOrigin(r) {
		writeError(w, http.StatusForbidden, "Origin not allowed")
		return false
	}
	// anything but application/json needs a CORS preflight, which is never answered
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// handleQuery answers 200 with the result shape for every processed query,
// failed ones included; only malformed requests get a 4xx.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}

	s.mutex.Lock()
	s.queryCount++
	s.mutex.Unlock()

	start := time.Now()
	res := s.pipeline.ProcessQuery(r.Context(), req.Query, req.Context)
	s.logger.Logf("api query processed in %s (success=%t)", time.Since(start).Round(time.Millisecond), res.OK())
	writeJSON(w, http.StatusOK, orchestrator.FilterSensitive(res))
}

func (s *Server) handleRunSandbox(w http.ResponseWriter, r *http.Request) {
	var req sandboxRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, prompts.CodeRequired())
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.RunSandbox(r.Context(), req.Code))
}

// handleHistory serves GET /api/history?limit=N&success_only=true.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var f orchestrator.HistoryFilter
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	if v := q.Get("success_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "success_only must be a boolean")
			return
		}
		f.SuccessOnly = b
	}

	entries := s.pipeline.History(f)
	for i := range entries {
		entries[i].Result = orchestrator.FilterSensitive(entries[i].Result)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) gatherStats() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	uptime := time.Since(s.startTime)
	return map[string]any{
		"uptime_seconds": int64(uptime.Seconds()),
		"connections":    s.countConnections(),
		"queries":        s.queryCount,
		"start_time":     s.startTime.Unix(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.gatherStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}
