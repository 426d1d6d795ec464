// Package sse provides Server-Sent Events support for the live call board.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"agency_calls_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventCallStarted      EventType = "call_started"
	EventCallAnswered     EventType = "call_answered"
	EventCallOnHold       EventType = "call_on_hold"
	EventCallResumed      EventType = "call_resumed"
	EventCallEnded        EventType = "call_ended"
	EventTranscriptReady  EventType = "transcript_ready"
	EventTranscriptFailed EventType = "transcript_failed"
)

const clientBuffer = 32

// Event represents an SSE event payload
type Event struct {
	Type   EventType `json:"type"`
	CallID uuid.UUID `json:"callId"`
	Data   any       `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	userID   uuid.UUID
	tenantID uuid.UUID
	events   chan Event
}

// Service fans call events out to every dashboard connected for a tenant.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client // tenantID -> clients
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.tenantID] = append(s.clients[c.tenantID], c)
}

// removeClient unregisters c and closes its channel unless Close already did.
func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.tenantID]
	for i, cl := range clients {
		if cl != c {
			continue
		}
		s.clients[c.tenantID] = append(clients[:i:i], clients[i+1:]...)
		if len(s.clients[c.tenantID]) == 0 {
			delete(s.clients, c.tenantID)
		}
		close(c.events)
		return
	}
}

// PublishToTenant broadcasts an event to every client of the tenant. Slow
// clients drop events instead of blocking the publisher.
func (s *Service) PublishToTenant(tenantID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := s.clients[tenantID]
	for _, c := range clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse buffer full", "user_id", c.userID, "event", event.Type)
		}
	}
	s.log.Debug("sse event published", "event", event.Type, "tenant_id", tenantID, "clients", len(clients))
}

// Subscribe registers a stream for a tenant. The returned cancel function
// unregisters it and closes the channel.
func (s *Service) Subscribe(tenantID, userID uuid.UUID) (<-chan Event, func()) {
	cl := &client{
		userID:   userID,
		tenantID: tenantID,
		events:   make(chan Event, clientBuffer),
	}
	s.addClient(cl)
	return cl.events, func() { s.removeClient(cl) }
}

// ClientCount reports how many streams are open for a tenant.
func (s *Service) ClientCount(tenantID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[tenantID])
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler(getUserID func(*gin.Context) (uuid.UUID, bool), getTenantID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := getUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tenantID, ok := getTenantID(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "no organization context"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		stream, cancel := s.Subscribe(tenantID, userID)
		defer cancel()

		c.SSEvent("connected", gin.H{"userId": userID, "tenantId": tenantID})
		c.Writer.Flush()
		s.log.Info("sse client connected", "user_id", userID, "tenant_id", tenantID)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Info("sse client disconnected", "user_id", userID)
				return
			case event, ok := <-stream:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}
