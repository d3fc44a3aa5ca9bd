package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/faunavision/faunavision-go/internal/events"
	"github.com/faunavision/faunavision-go/internal/logger"
)

// SSE event names besides the bus event kinds.
const (
	sseEventConnected = "connected"
	sseEventSnapshot  = "snapshot"
	sseEventHeartbeat = "heartbeat"
)

// streamMetrics is the subset of metrics.HTTPMetrics the manager updates.
type streamMetrics interface {
	SSEClientConnected()
	SSEClientDisconnected()
	SSEEventDropped()
}

// SSEClient represents a connected SSE client
type SSEClient struct {
	ID      string
	Channel chan events.Event
	Done    chan struct{}
}

// SSEManager fans bus events out to connected clients. It is registered as
// an events.EventConsumer and never blocks the bus worker: a client whose
// buffer is full misses the event.
type SSEManager struct {
	clients map[string]*SSEClient
	mutex   sync.RWMutex
	closed  bool
	logger  logger.Logger
	metrics streamMetrics
}

// NewSSEManager creates a new SSE manager
func NewSSEManager(log logger.Logger) *SSEManager {
	return &SSEManager{
		clients: make(map[string]*SSEClient),
		logger:  log,
	}
}

// Name implements events.EventConsumer.
func (m *SSEManager) Name() string { return "sse" }

// ProcessEvent implements events.EventConsumer.
func (m *SSEManager) ProcessEvent(event events.Event) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for id, client := range m.clients {
		select {
		case client.Channel <- event:
		default:
			if m.metrics != nil {
				m.metrics.SSEEventDropped()
			}
			m.logger.Debug("SSE client too slow, event dropped",
				logger.String("client_id", id),
				logger.String("kind", string(event.Kind)))
		}
	}
	return nil
}

// AddClient registers a new client. It fails once the manager is closed.
func (m *SSEManager) AddClient() (*SSEClient, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return nil, false
	}

	client := &SSEClient{
		ID:      uuid.NewString(),
		Channel: make(chan events.Event, sseClientBuffer),
		Done:    make(chan struct{}),
	}
	m.clients[client.ID] = client
	if m.metrics != nil {
		m.metrics.SSEClientConnected()
	}
	m.logger.Debug("SSE client connected",
		logger.String("client_id", client.ID),
		logger.Int("total", len(m.clients)))
	return client, true
}

// RemoveClient removes an SSE client
func (m *SSEManager) RemoveClient(clientID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.removeLocked(clientID)
}

func (m *SSEManager) removeLocked(clientID string) {
	client, exists := m.clients[clientID]
	if !exists {
		return
	}
	close(client.Done)
	delete(m.clients, clientID)
	if m.metrics != nil {
		m.metrics.SSEClientDisconnected()
	}
	m.logger.Debug("SSE client disconnected",
		logger.String("client_id", clientID),
		logger.Int("total", len(m.clients)))
}

// Close disconnects every client and rejects new ones.
func (m *SSEManager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	for id := range m.clients {
		m.removeLocked(id)
	}
}

// ClientCount returns the number of connected clients
func (m *SSEManager) ClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// streamEvents sends a snapshot of the collection, then every bus event,
// with a heartbeat while idle.
func (s *Server) streamEvents(c echo.Context) error {
	client, ok := s.sse.AddClient()
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}
	defer s.sse.RemoveClient(client.ID)

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	if err := s.sendSSE(c, sseEventConnected, map[string]string{"client_id": client.ID}); err != nil {
		return nil
	}
	// subscribed before the snapshot, so nothing between the two is lost
	if err := s.sendSSE(c, sseEventSnapshot, s.collectionView()); err != nil {
		return nil
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-client.Channel:
			if err := s.sendSSE(c, string(event.Kind), event); err != nil {
				s.log.Debug("SSE write failed", logger.String("client_id", client.ID), logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := s.sendSSE(c, sseEventHeartbeat, map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return nil
			}
		case <-c.Request().Context().Done():
			return nil
		case <-client.Done:
			return nil
		}
	}
}

// sendSSE writes one event frame and flushes it.
func (s *Server) sendSSE(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(c.Response().Writer)
	// not every writer supports deadlines, e.g. httptest.ResponseRecorder
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))

	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	c.Response().Flush()
	return nil
}
