package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeRedaction is sent for every recorded redaction event
	EventTypeRedaction EventType = "redaction"
	// EventTypeRejection is sent for every recorded rejection event
	EventTypeRejection EventType = "rejection"
	// EventTypeAuditCleared is sent when an administrator clears the audit log
	EventTypeAuditCleared EventType = "audit_cleared"
	// EventTypeSyncRun is sent after each sync run
	EventTypeSyncRun EventType = "sync_run"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest narrows the event types a client receives
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string

	mu           sync.RWMutex
	subscription map[EventType]bool
}

func (c *Client) subscribe(req SubscriptionRequest) {
	set := make(map[EventType]bool, len(req.Events))
	for _, t := range req.Events {
		set[t] = true
	}
	c.mu.Lock()
	c.subscription = set
	c.mu.Unlock()
}

// wants reports whether the client's subscription admits t. Clients that
// never subscribed receive everything.
func (c *Client) wants(t EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subscription == nil {
		return true
	}
	return c.subscription[t]
}
