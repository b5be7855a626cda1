package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/plumbrhq/plumbr/internal/audit"
	"github.com/plumbrhq/plumbr/internal/cache"
	"github.com/plumbrhq/plumbr/internal/engine"
	"github.com/plumbrhq/plumbr/internal/websocket"
)

// redactRequest is the body of POST /api/redact.
type redactRequest struct {
	Text string `json:"text"`
}

// redactResponse answers POST /api/redact.
type redactResponse struct {
	Redacted        string  `json:"redacted"`
	LinesProcessed  uint64  `json:"lines_processed"`
	LinesModified   uint64  `json:"lines_modified"`
	PatternsMatched uint64  `json:"patterns_matched"`
	ProcessingMS    float64 `json:"processing_time_ms"`
	Cached          bool    `json:"cached,omitempty"`
}

// batchRequest is the body of POST /api/redact/batch.
type batchRequest struct {
	Texts []string `json:"texts"`
}

// batchResponse answers POST /api/redact/batch with per-input results in
// input order plus aggregate counters.
type batchResponse struct {
	Results         []string `json:"results"`
	Count           int      `json:"count"`
	LinesProcessed  uint64   `json:"lines_processed"`
	LinesModified   uint64   `json:"lines_modified"`
	PatternsMatched uint64   `json:"patterns_matched"`
	ProcessingMS    float64  `json:"processing_time_ms"`
}

// healthStats carries the request counters inside a health response.
type healthStats struct {
	RequestsTotal  int64   `json:"requests_total"`
	RequestsOK     int64   `json:"requests_ok"`
	RequestsError  int64   `json:"requests_error"`
	BytesProcessed uint64  `json:"bytes_processed"`
	AvgRPS         float64 `json:"avg_rps"`
}

// healthResponse answers GET /health and GET /api/health.
type healthResponse struct {
	Status         string      `json:"status"`
	Version        string      `json:"version"`
	ServerVersion  string      `json:"server_version"`
	UptimeSeconds  float64     `json:"uptime_seconds"`
	PatternsLoaded int         `json:"patterns_loaded"`
	Stats          healthStats `json:"stats"`
}

// statsResponse answers GET /api/stats.
type statsResponse struct {
	Stats          engine.Stats `json:"stats"`
	PatternsLoaded int          `json:"patterns_loaded"`
	UptimeSeconds  float64      `json:"uptime_seconds"`
	Cache          *cache.Stats `json:"cache,omitempty"`
	WebSocket      *wsStats     `json:"websocket,omitempty"`
}

type wsStats struct {
	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalBroadcasts   int64 `json:"total_broadcasts"`
}

// patternInfo is one active rule as reported by GET /api/patterns. Rule
// expressions are not exposed.
type patternInfo struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

type patternsResponse struct {
	Patterns []patternInfo `json:"patterns"`
	Count    int           `json:"count"`
}

// auditRecentResponse answers GET /api/audit/recent.
type auditRecentResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

// handleRedact redacts a single text payload
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	requestID := getRequestID(r.Context())
	clientIP := getClientIP(r)

	if s.cache != nil {
		if hit, ok := s.cache.Get(r.Context(), req.Text); ok {
			s.writeJSON(w, http.StatusOK, redactResponse{
				Redacted:        hit.Redacted,
				LinesProcessed:  hit.LinesProcessed,
				LinesModified:   hit.LinesModified,
				PatternsMatched: hit.PatternsMatched,
				Cached:          true,
			})
			return
		}
	}

	start := time.Now()
	s.mu.RLock()
	redacted, report, err := s.engine.RedactWithReport(req.Text)
	s.mu.RUnlock()
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "redaction engine unavailable")
		return
	}

	if s.cache != nil {
		if err := s.cache.Store(r.Context(), req.Text, &cache.CachedResult{
			Redacted:        redacted,
			LinesProcessed:  report.LinesProcessed,
			LinesModified:   report.LinesModified,
			PatternsMatched: report.PatternsMatched,
		}); err != nil {
			s.logger.Debug("Result cache store failed", zap.Error(err))
		}
	}

	s.recordRedaction(requestID, "redact", clientIP, report, len(req.Text), elapsed)

	s.writeJSON(w, http.StatusOK, redactResponse{
		Redacted:        redacted,
		LinesProcessed:  report.LinesProcessed,
		LinesModified:   report.LinesModified,
		PatternsMatched: report.PatternsMatched,
		ProcessingMS:    elapsed,
	})
}

// handleRedactBatch redacts a list of texts, preserving input order
func (s *Server) handleRedactBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	requestID := getRequestID(r.Context())

	start := time.Now()
	results := make([]string, len(req.Texts))
	var cached []*cache.CachedResult
	var total engine.Report
	bytes := 0

	s.mu.RLock()
	var err error
	for i, text := range req.Texts {
		var report engine.Report
		results[i], report, err = s.engine.RedactWithReport(text)
		if err != nil {
			break
		}
		total.LinesProcessed += report.LinesProcessed
		total.LinesModified += report.LinesModified
		total.PatternsMatched += report.PatternsMatched
		bytes += len(text)

		if s.cache != nil {
			cached = append(cached, &cache.CachedResult{
				Redacted:        results[i],
				LinesProcessed:  report.LinesProcessed,
				LinesModified:   report.LinesModified,
				PatternsMatched: report.PatternsMatched,
			})
		}
	}
	s.mu.RUnlock()

	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "redaction engine unavailable")
		return
	}

	// Batch results warm the per-text cache for later single lookups.
	if s.cache != nil && len(cached) > 0 {
		if serr := s.cache.StoreBatch(r.Context(), req.Texts, cached); serr != nil {
			s.logger.Debug("Result cache store failed", zap.Error(serr))
		}
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	s.recordRedaction(requestID, "batch", getClientIP(r), total, bytes, elapsed)

	s.writeJSON(w, http.StatusOK, batchResponse{
		Results:         results,
		Count:           len(results),
		LinesProcessed:  total.LinesProcessed,
		LinesModified:   total.LinesModified,
		PatternsMatched: total.PatternsMatched,
		ProcessingMS:    elapsed,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, patterns := s.engineSnapshot()
	uptime := time.Since(s.startedAt).Seconds()

	total := s.metrics.requestsTotal.Load()
	avg := 0.0
	if uptime > 0 {
		avg = float64(total) / uptime
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Version:        engine.Version,
		ServerVersion:  s.version,
		UptimeSeconds:  uptime,
		PatternsLoaded: patterns,
		Stats: healthStats{
			RequestsTotal:  total,
			RequestsOK:     s.metrics.requestsOK.Load(),
			RequestsError:  s.metrics.requestsError.Load(),
			BytesProcessed: stats.BytesProcessed,
			AvgRPS:         avg,
		},
	})
}

// handleStats reports the engine counters plus sink statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, patterns := s.engineSnapshot()

	resp := statsResponse{
		Stats:          stats,
		PatternsLoaded: patterns,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
	}

	if s.cache != nil {
		if cs, err := s.cache.GetStats(r.Context()); err == nil {
			resp.Cache = cs
		}
	}
	if s.wsHub != nil {
		hs := s.wsHub.GetStats()
		resp.WebSocket = &wsStats{
			ActiveConnections: hs.ActiveConnections,
			TotalConnections:  hs.TotalConnections,
			TotalBroadcasts:   hs.TotalBroadcasts,
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handlePatterns lists the active rules
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	rules, err := s.engine.Rules()
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "redaction engine unavailable")
		return
	}

	infos := make([]patternInfo, len(rules))
	for i, rule := range rules {
		infos[i] = patternInfo{Name: rule.Name, Category: rule.Category}
	}

	s.writeJSON(w, http.StatusOK, patternsResponse{Patterns: infos, Count: len(infos)})
}

// handleAuditRecent lists the newest audit events
func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.auditDB.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load audit events", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load audit events")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}

	s.writeJSON(w, http.StatusOK, auditRecentResponse{Events: events, Count: len(events)})
}

// handleAuditSummary reports aggregate totals over the audit log
func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.auditDB.GetSummary(r.Context())
	if err != nil {
		s.logger.Error("Failed to load audit summary", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load audit summary")
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

// recordRedaction fans one finished operation out to the event hub and the
// audit sink. Neither path may block the response.
func (s *Server) recordRedaction(requestID, operation, clientIP string, report engine.Report, bytes int, elapsedMS float64) {
	if s.wsHub != nil {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeRedaction,
			Timestamp: time.Now(),
			RequestID: requestID,
			Data: websocket.RedactionEvent{
				RequestID:       requestID,
				Operation:       operation,
				ClientIP:        clientIP,
				LinesProcessed:  report.LinesProcessed,
				LinesModified:   report.LinesModified,
				PatternsMatched: report.PatternsMatched,
				ProcessingMS:    elapsedMS,
			},
		})
	}

	if s.audits != nil {
		s.audits.Record(&audit.Event{
			OccurredAt:      time.Now(),
			Operation:       operation,
			ClientIP:        clientIP,
			RequestID:       requestID,
			LinesProcessed:  int64(report.LinesProcessed),
			LinesModified:   int64(report.LinesModified),
			PatternsMatched: int64(report.PatternsMatched),
			BytesProcessed:  int64(bytes),
			DurationMs:      elapsedMS,
		})
	}
}

// decodeBody decodes a JSON body under the configured size cap, answering
// the request itself on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
