package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tempbox/tempbox-backend/internal/models"
)

func TestNewSecureUpgrader_ValidOrigin(t *testing.T) {
	upgrader := NewSecureUpgrader([]string{"http://localhost:3000", "http://example.com"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	result := upgrader.CheckOrigin(req)
	assert.True(t, result)
}

func TestNewSecureUpgrader_InvalidOrigin(t *testing.T) {
	upgrader := NewSecureUpgrader([]string{"http://localhost:3000"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://malicious.com")

	result := upgrader.CheckOrigin(req)
	assert.False(t, result)
}

func TestNewSecureUpgrader_EmptyOrigin(t *testing.T) {
	upgrader := NewSecureUpgrader([]string{"http://localhost:3000"}, nil)

	// Same-origin requests have empty Origin header
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)

	result := upgrader.CheckOrigin(req)
	assert.True(t, result)
}

func TestNewSecureUpgrader_DefaultOrigin(t *testing.T) {
	upgrader := NewSecureUpgrader(nil, nil)

	// Default should allow localhost:3000
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	result := upgrader.CheckOrigin(req)
	assert.True(t, result)
}

func TestNewSecureUpgrader_MultipleOrigins(t *testing.T) {
	upgrader := NewSecureUpgrader([]string{"http://localhost:3000", " http://example.com", " http://app.example.com"}, nil)

	tests := []struct {
		origin   string
		expected bool
	}{
		{"http://localhost:3000", true},
		{"http://example.com", true},
		{"http://app.example.com", true},
		{"http://other.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Header.Set("Origin", tt.origin)

			result := upgrader.CheckOrigin(req)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDefaultUpgrader_AllowsAll(t *testing.T) {
	upgrader := DefaultUpgrader()

	origins := []string{
		"http://localhost:3000",
		"http://example.com",
		"http://malicious.com",
		"",
	}

	for _, origin := range origins {
		t.Run(origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if origin != "" {
				req.Header.Set("Origin", origin)
			}

			result := upgrader.CheckOrigin(req)
			assert.True(t, result)
		})
	}
}

func TestNewSecureUpgrader_FiltersEmptyEntries(t *testing.T) {
	upgrader := NewSecureUpgrader([]string{"", "  ", ""}, nil)

	// Should default to localhost:3000 when all entries are empty
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	result := upgrader.CheckOrigin(req)
	assert.True(t, result)
}

func TestNewSecureUpgrader_CaseSensitive(t *testing.T) {
	upgrader := NewSecureUpgrader([]string{"http://localhost:3000"}, nil)

	// Origins are case-sensitive
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "HTTP://LOCALHOST:3000")

	result := upgrader.CheckOrigin(req)
	assert.False(t, result)
}

func TestNewSecureUpgrader_BufferSizes(t *testing.T) {
	upgrader := NewSecureUpgrader(nil, nil)

	assert.Equal(t, 1024, upgrader.ReadBufferSize)
	assert.Equal(t, 1024, upgrader.WriteBufferSize)
}

func TestHub_NewHub(t *testing.T) {
	hub := NewHub(nil)

	assert.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.subscriptions)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
}

func TestHub_BroadcastNewMessage(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	payload := &NewMessagePayload{
		ID:          "msg-1",
		FromAddress: "test@example.com",
		Subject:     "Test Subject",
		ReceivedAt:  "2025-01-01T00:00:00Z",
	}

	// This should not panic even with no subscribers
	hub.BroadcastNewMessage("box-1", payload)
}

func TestHub_NotifyNewMessage_ReachesSubscriber(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	client := NewClient(hub, nil, nil)
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	hub.Subscribe(client, "box-42")
	time.Sleep(10 * time.Millisecond)

	hub.NotifyNewMessage("box-42", &models.Message{
		ID:            "msg-42",
		FromAddress:   "sender@corp.example",
		Subject:       "Delivered",
		ContentKind:   models.ContentKindText,
		SentFormatted: "Jan 01 at 12:00:00",
		Timestamp:     time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	})

	select {
	case data := <-client.send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, MessageTypeNewMessage, msg.Type)
		assert.Equal(t, "box-42", msg.MailboxID)

		payload, ok := msg.Message.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "msg-42", payload["id"])
		assert.Equal(t, "sender@corp.example", payload["from_address"])
		assert.Equal(t, "text", payload["content_kind"])
	case <-time.After(time.Second):
		t.Fatal("expected broadcast to reach subscriber")
	}
}

func TestHub_NotifyNewMessage_OnlyTargetMailbox(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	client := NewClient(hub, nil, nil)
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	hub.Subscribe(client, "box-a")
	time.Sleep(10 * time.Millisecond)

	hub.NotifyNewMessage("box-b", &models.Message{ID: "other", Timestamp: time.Now()})
	time.Sleep(20 * time.Millisecond)

	select {
	case <-client.send:
		t.Fatal("subscriber of another mailbox should not receive the broadcast")
	default:
	}
}
