package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/plumbrhq/plumbr/internal/engine"
)

// RedactFunc applies the server's current rule set to one chunk of text.
// The server binds this against whatever engine is live, so long-running
// stream sessions pick up rule reloads between frames.
type RedactFunc func(text string) (string, engine.Report, error)

// StreamRequest is one inbound text frame on the streaming endpoint.
type StreamRequest struct {
	Text string `json:"text"`
}

// StreamResponse answers exactly one StreamRequest.
type StreamResponse struct {
	Redacted        string  `json:"redacted"`
	PatternsMatched uint64  `json:"patterns_matched"`
	ProcessingMS    float64 `json:"processing_time_ms"`
	Error           string  `json:"error,omitempty"`
}

// StreamerConfig controls the streaming endpoint.
type StreamerConfig struct {
	MaxMessageSize int64
	AllowedOrigins []string
}

// Streamer serves bidirectional redaction sessions: every text frame a
// client sends is answered with exactly one redacted frame, in order.
type Streamer struct {
	redact   RedactFunc
	hub      *Hub
	maxBytes int64
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamer creates a streaming handler. hub may be nil when event
// broadcasting is disabled.
func NewStreamer(cfg *StreamerConfig, redact RedactFunc, hub *Hub, logger *zap.Logger) *Streamer {
	maxBytes := int64(1 << 20)
	var origins []string
	if cfg != nil {
		if cfg.MaxMessageSize > 0 {
			maxBytes = cfg.MaxMessageSize
		}
		origins = cfg.AllowedOrigins
	}
	return &Streamer{
		redact:   redact,
		hub:      hub,
		maxBytes: maxBytes,
		upgrader: newUpgrader(origins),
		logger:   logger,
	}
}

// HandleStream upgrades the connection and answers text frames until the
// client disconnects. A frame that fails redaction gets an error reply; the
// session itself stays open.
func (s *Streamer) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade stream connection",
			zap.String("component", "websocket"),
			zap.Error(err),
		)
		return
	}
	defer conn.Close()

	clientIP := getClientIP(r)
	conn.SetReadLimit(s.maxBytes)

	s.logger.Info("Stream session opened",
		zap.String("component", "websocket"),
		zap.String("client_ip", clientIP),
	)

	frames := 0
	for {
		var req StreamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Stream read error",
					zap.String("component", "websocket"),
					zap.String("client_ip", clientIP),
					zap.Error(err),
				)
			}
			break
		}

		start := time.Now()
		redacted, report, err := s.redact(req.Text)
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0

		resp := StreamResponse{
			Redacted:        redacted,
			PatternsMatched: report.PatternsMatched,
			ProcessingMS:    elapsed,
		}
		if err != nil {
			resp = StreamResponse{Error: err.Error()}
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Warn("Stream write error",
				zap.String("component", "websocket"),
				zap.String("client_ip", clientIP),
				zap.Error(err),
			)
			break
		}
		frames++

		if err == nil && s.hub != nil {
			s.hub.BroadcastEvent(Event{
				Type:      EventTypeRedaction,
				Timestamp: time.Now(),
				Data: RedactionEvent{
					Operation:       "stream",
					ClientIP:        clientIP,
					LinesProcessed:  report.LinesProcessed,
					LinesModified:   report.LinesModified,
					PatternsMatched: report.PatternsMatched,
					ProcessingMS:    elapsed,
				},
			})
		}
	}

	s.logger.Info("Stream session closed",
		zap.String("component", "websocket"),
		zap.String("client_ip", clientIP),
		zap.Int("frames", frames),
	)
}
