package websocket

import (
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestHub(config *HubConfig) *Hub {
	return NewHub(config, zap.NewNop())
}

func redactionEvent(operation string, matches uint64) Event {
	return Event{
		Type:      EventTypeRedaction,
		Timestamp: time.Now(),
		Data: RedactionEvent{
			Operation:       operation,
			LinesProcessed:  1,
			PatternsMatched: matches,
		},
	}
}

func TestShouldSendToClient(t *testing.T) {
	h := newTestHub(&HubConfig{BroadcastRedactions: true})

	t.Run("NoSubscriptionGetsEverything", func(t *testing.T) {
		client := &Client{ID: "c1"}
		if !h.shouldSendToClient(client, redactionEvent("redact", 1)) {
			t.Error("Unfiltered client did not receive event")
		}
	})

	t.Run("EventTypeFilter", func(t *testing.T) {
		client := &Client{
			ID:           "c2",
			Subscription: &SubscriptionRequest{Events: []EventType{EventTypeRedaction}},
		}

		if !h.shouldSendToClient(client, redactionEvent("redact", 1)) {
			t.Error("Subscribed event type was filtered out")
		}

		logEvent := Event{Type: EventTypeRequestLog, Data: RequestLogEvent{Path: "/api/redact"}}
		if h.shouldSendToClient(client, logEvent) {
			t.Error("Unsubscribed event type was delivered")
		}
	})

	t.Run("OperationAndThresholdFilter", func(t *testing.T) {
		client := &Client{
			ID: "c3",
			Subscription: &SubscriptionRequest{
				Events: []EventType{EventTypeRedaction},
				Filter: &EventFilter{
					Operations: []string{"stream"},
					MinMatches: 2,
				},
			},
		}

		if h.shouldSendToClient(client, redactionEvent("redact", 5)) {
			t.Error("Wrong operation passed the filter")
		}
		if h.shouldSendToClient(client, redactionEvent("stream", 1)) {
			t.Error("Event below the match threshold passed the filter")
		}
		if !h.shouldSendToClient(client, redactionEvent("stream", 2)) {
			t.Error("Matching event was filtered out")
		}
	})
}

func TestApplyEventFilterNonRedactionData(t *testing.T) {
	filter := &EventFilter{Operations: []string{"redact"}, MinMatches: 10}
	status := Event{Type: EventTypeSystemStatus, Data: SystemStatusEvent{Status: "healthy"}}

	// Filters only constrain redaction payloads; other events pass through.
	if !applyEventFilter(filter, status) {
		t.Error("Non-redaction event was blocked by a redaction filter")
	}
}

func TestShouldBroadcastEvent(t *testing.T) {
	h := newTestHub(&HubConfig{
		BroadcastRedactions: true,
		BroadcastRequests:   false,
		BroadcastSystem:     true,
	})

	tests := []struct {
		eventType EventType
		want      bool
	}{
		{EventTypeRedaction, true},
		{EventTypeRequestLog, false},
		{EventTypeSystemStatus, true},
		{EventTypeConnection, false},
	}

	for _, tt := range tests {
		if got := h.shouldBroadcastEvent(tt.eventType); got != tt.want {
			t.Errorf("shouldBroadcastEvent(%s) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	request := func(origin string) *http.Request {
		r, _ := http.NewRequest("GET", "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	t.Run("AllowedList", func(t *testing.T) {
		up := newUpgrader([]string{"https://ops.example.com"})

		if !up.CheckOrigin(request("https://ops.example.com")) {
			t.Error("Allowed origin was rejected")
		}
		if !up.CheckOrigin(request("HTTPS://OPS.EXAMPLE.COM")) {
			t.Error("Origin comparison should be case-insensitive")
		}
		if up.CheckOrigin(request("https://evil.example.com")) {
			t.Error("Unlisted origin was accepted")
		}
		if !up.CheckOrigin(request("")) {
			t.Error("Non-browser client without Origin was rejected")
		}
	})

	t.Run("Wildcard", func(t *testing.T) {
		up := newUpgrader([]string{"*"})
		if !up.CheckOrigin(request("https://anywhere.example.com")) {
			t.Error("Wildcard did not admit an arbitrary origin")
		}
	})

	t.Run("EmptyListAllowsAll", func(t *testing.T) {
		up := newUpgrader(nil)
		if !up.CheckOrigin(request("https://anywhere.example.com")) {
			t.Error("Empty allow list should admit all origins")
		}
	})
}

func TestHandleClientMessage(t *testing.T) {
	h := newTestHub(&HubConfig{BroadcastRedactions: true})

	t.Run("Subscribe", func(t *testing.T) {
		client := &Client{ID: "c1", Send: make(chan Event, 4)}

		h.handleClientMessage(client, ClientMessage{
			Type: "subscribe",
			Data: map[string]interface{}{
				"events": []interface{}{"redaction"},
				"filter": map[string]interface{}{
					"operations":  []interface{}{"stream"},
					"min_matches": float64(3),
				},
			},
		})

		if client.Subscription == nil {
			t.Fatal("Subscription was not applied")
		}
		if len(client.Subscription.Events) != 1 || client.Subscription.Events[0] != EventTypeRedaction {
			t.Errorf("Events = %v, want [redaction]", client.Subscription.Events)
		}
		if client.Subscription.Filter == nil || client.Subscription.Filter.MinMatches != 3 {
			t.Errorf("Filter = %+v, want min_matches 3", client.Subscription.Filter)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		client := &Client{ID: "c2", Send: make(chan Event, 1)}

		h.handleClientMessage(client, ClientMessage{Type: "ping"})

		select {
		case evt := <-client.Send:
			if evt.Type != "pong" {
				t.Errorf("Reply type = %s, want pong", evt.Type)
			}
		default:
			t.Fatal("No pong queued for the client")
		}
	})
}

func TestBroadcastEventRespectsConfig(t *testing.T) {
	h := newTestHub(&HubConfig{BroadcastRedactions: false})

	h.BroadcastEvent(redactionEvent("redact", 1))

	select {
	case <-h.broadcast:
		t.Error("Disabled event type reached the broadcast channel")
	default:
	}
}
