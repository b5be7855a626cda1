package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/plumbrhq/plumbr/internal/engine"
)

// dialStream spins up the streamer behind a test server and dials it.
func dialStream(t *testing.T, redact RedactFunc) *websocket.Conn {
	t.Helper()

	st := NewStreamer(nil, redact, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(st.HandleStream))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamRoundTrip(t *testing.T) {
	redact := func(text string) (string, engine.Report, error) {
		out := strings.ReplaceAll(text, "hunter2", "[REDACTED:password]")
		report := engine.Report{LinesProcessed: 1}
		if out != text {
			report.LinesModified = 1
			report.PatternsMatched = 1
		}
		return out, report, nil
	}

	conn := dialStream(t, redact)

	frames := []struct {
		in      string
		want    string
		matched uint64
	}{
		{in: "clean frame", want: "clean frame", matched: 0},
		{in: "password is hunter2", want: "password is [REDACTED:password]", matched: 1},
		{in: "another clean one", want: "another clean one", matched: 0},
	}

	for i, frame := range frames {
		if err := conn.WriteJSON(StreamRequest{Text: frame.in}); err != nil {
			t.Fatalf("Frame %d write failed: %v", i, err)
		}

		var resp StreamResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("Frame %d read failed: %v", i, err)
		}

		if resp.Redacted != frame.want {
			t.Errorf("Frame %d redacted = %q, want %q", i, resp.Redacted, frame.want)
		}
		if resp.PatternsMatched != frame.matched {
			t.Errorf("Frame %d patterns_matched = %d, want %d", i, resp.PatternsMatched, frame.matched)
		}
		if resp.Error != "" {
			t.Errorf("Frame %d unexpected error: %s", i, resp.Error)
		}
	}
}

func TestStreamSurvivesRedactError(t *testing.T) {
	calls := 0
	redact := func(text string) (string, engine.Report, error) {
		calls++
		if calls == 1 {
			return "", engine.Report{}, errors.New("engine unavailable")
		}
		return text, engine.Report{LinesProcessed: 1}, nil
	}

	conn := dialStream(t, redact)

	if err := conn.WriteJSON(StreamRequest{Text: "first"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	var resp StreamResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if resp.Error == "" {
		t.Error("Failed frame carried no error")
	}

	// The session stays open and serves the next frame.
	if err := conn.WriteJSON(StreamRequest{Text: "second"}); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("Second read failed: %v", err)
	}
	if resp.Error != "" || resp.Redacted != "second" {
		t.Errorf("Recovery frame = %+v, want clean echo", resp)
	}
}
