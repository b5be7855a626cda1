package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/plumbrhq/plumbr/internal/config"
	"github.com/plumbrhq/plumbr/internal/logger"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.Engine.Quiet = true
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg, "test", logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHandleRedact(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("RedactsEmail", func(t *testing.T) {
		rec := doJSON(s, "POST", "/api/redact", `{"text":"contact alice@example.com for access"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
		}

		var resp redactResponse
		decodeResponse(t, rec, &resp)

		if strings.Contains(resp.Redacted, "alice@example.com") {
			t.Errorf("Email survived redaction: %q", resp.Redacted)
		}
		if !strings.Contains(resp.Redacted, "[REDACTED:email]") {
			t.Errorf("Missing email marker: %q", resp.Redacted)
		}
		if resp.LinesProcessed != 1 {
			t.Errorf("LinesProcessed = %d, want 1", resp.LinesProcessed)
		}
		if resp.LinesModified != 1 {
			t.Errorf("LinesModified = %d, want 1", resp.LinesModified)
		}
		if resp.PatternsMatched == 0 {
			t.Error("PatternsMatched = 0, want at least 1")
		}
	})

	t.Run("CleanTextPassesThrough", func(t *testing.T) {
		rec := doJSON(s, "POST", "/api/redact", `{"text":"nothing sensitive here"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, want 200", rec.Code)
		}

		var resp redactResponse
		decodeResponse(t, rec, &resp)

		if resp.Redacted != "nothing sensitive here" {
			t.Errorf("Clean text was altered: %q", resp.Redacted)
		}
		if resp.LinesModified != 0 {
			t.Errorf("LinesModified = %d, want 0", resp.LinesModified)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rec := doJSON(s, "POST", "/api/redact", `{not json`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", rec.Code)
		}
	})
}

func TestRedactBodyCap(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 64
	})

	body := `{"text":"` + strings.Repeat("a", 200) + `"}`
	rec := doJSON(s, "POST", "/api/redact", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Status = %d, want 413", rec.Code)
	}
}

func TestHandleRedactBatch(t *testing.T) {
	s := newTestServer(t, nil)

	payload := `{"texts":["first line is clean","ssn 123-45-6789 inside","third line is clean"]}`
	rec := doJSON(s, "POST", "/api/redact/batch", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp batchResponse
	decodeResponse(t, rec, &resp)

	if resp.Count != 3 || len(resp.Results) != 3 {
		t.Fatalf("Count = %d, len(Results) = %d, want 3", resp.Count, len(resp.Results))
	}
	if resp.Results[0] != "first line is clean" {
		t.Errorf("Results[0] = %q, want unchanged input", resp.Results[0])
	}
	if !strings.Contains(resp.Results[1], "[REDACTED:ssn]") {
		t.Errorf("Results[1] missing ssn marker: %q", resp.Results[1])
	}
	if resp.Results[2] != "third line is clean" {
		t.Errorf("Results[2] = %q, want unchanged input", resp.Results[2])
	}
	if resp.LinesProcessed != 3 {
		t.Errorf("LinesProcessed = %d, want 3", resp.LinesProcessed)
	}
	if resp.LinesModified != 1 {
		t.Errorf("LinesModified = %d, want 1", resp.LinesModified)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(s, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp healthResponse
	decodeResponse(t, rec, &resp)

	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.ServerVersion != "test" {
		t.Errorf("ServerVersion = %q, want test", resp.ServerVersion)
	}
	if resp.PatternsLoaded == 0 {
		t.Error("PatternsLoaded = 0, want the built-in set")
	}

	// The same handler also serves under the API prefix.
	rec = doJSON(s, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("API health status = %d, want 200", rec.Code)
	}
}

func TestHandlePatterns(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(s, "GET", "/api/patterns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp patternsResponse
	decodeResponse(t, rec, &resp)

	if resp.Count == 0 || len(resp.Patterns) != resp.Count {
		t.Fatalf("Count = %d, len(Patterns) = %d", resp.Count, len(resp.Patterns))
	}
	for _, p := range resp.Patterns {
		if p.Name == "" || p.Category == "" {
			t.Errorf("Pattern entry missing fields: %+v", p)
		}
	}
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t, nil)

	// Drive one redaction so the counters move.
	doJSON(s, "POST", "/api/redact", `{"text":"mail bob@example.com"}`)

	rec := doJSON(s, "GET", "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp statsResponse
	decodeResponse(t, rec, &resp)

	if resp.Stats.LinesProcessed == 0 {
		t.Error("Stats.LinesProcessed = 0 after a redaction")
	}
	if resp.PatternsLoaded == 0 {
		t.Error("PatternsLoaded = 0, want the built-in set")
	}
	if resp.WebSocket == nil {
		t.Error("WebSocket stats missing with the hub enabled")
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit.Enabled = true
		cfg.Server.RateLimit.RequestsPerMinute = 60
		cfg.Server.RateLimit.Burst = 1
	})

	rec := doJSON(s, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("First request status = %d, want 200", rec.Code)
	}

	rec = doJSON(s, "GET", "/api/health", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Second request status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}

	// The plain health endpoint sits outside the API limiter.
	rec = doJSON(s, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Unlimited health status = %d, want 200", rec.Code)
	}
}

func TestReloadPatterns(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(s, "POST", "/api/redact", `{"text":"mail carol@example.com"}`)
	var resp redactResponse
	decodeResponse(t, rec, &resp)
	if !strings.Contains(resp.Redacted, "[REDACTED:email]") {
		t.Fatalf("Built-in set not active before reload: %q", resp.Redacted)
	}

	t.Run("FailedReloadKeepsOldEngine", func(t *testing.T) {
		err := s.ReloadPatterns(config.EngineConfig{
			PatternFile: filepath.Join(t.TempDir(), "missing.txt"),
			Quiet:       true,
		})
		if err == nil {
			t.Fatal("Reload with missing pattern file did not fail")
		}

		rec := doJSON(s, "POST", "/api/redact", `{"text":"mail carol@example.com"}`)
		var resp redactResponse
		decodeResponse(t, rec, &resp)
		if !strings.Contains(resp.Redacted, "[REDACTED:email]") {
			t.Errorf("Old engine not serving after failed reload: %q", resp.Redacted)
		}
	})

	t.Run("SwapActivatesNewRules", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "tickets.txt")
		line := "ticket|TICKET|TKT-[0-9]{4}|[REDACTED:TICKET]\n"
		if err := os.WriteFile(file, []byte(line), 0o644); err != nil {
			t.Fatalf("Failed to write pattern file: %v", err)
		}

		err := s.ReloadPatterns(config.EngineConfig{
			PatternFile: file,
			NoDefaults:  true,
			Quiet:       true,
		})
		if err != nil {
			t.Fatalf("Reload failed: %v", err)
		}

		rec := doJSON(s, "POST", "/api/redact", `{"text":"see TKT-1234, mail carol@example.com"}`)
		var resp redactResponse
		decodeResponse(t, rec, &resp)

		if !strings.Contains(resp.Redacted, "[REDACTED:TICKET]") {
			t.Errorf("Custom rule not active after reload: %q", resp.Redacted)
		}
		if !strings.Contains(resp.Redacted, "carol@example.com") {
			t.Errorf("Built-in rule still active with defaults disabled: %q", resp.Redacted)
		}
	})
}
