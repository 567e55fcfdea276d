package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jamie-anson/placeflow-ingestor/internal/logging"
	"github.com/jamie-anson/placeflow-ingestor/internal/metrics"
	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressEvent is one frame on the /batch/status/stream socket: a chunk
// boundary, an engine terminal state, or a queue-worker status change.
type ProgressEvent struct {
	Type      string                  `json:"type"`
	JobName   string                  `json:"job_name,omitempty"`
	WorkerID  int                     `json:"worker_id"`
	Chunk     *pipeline.ChunkStats    `json:"chunk,omitempty"`
	Counters  *models.EngineCounters  `json:"counters,omitempty"`
	Status    string                  `json:"status,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// StatusStream broadcasts pipeline progress events to connected operator
// dashboards. Engines feed it through their on_chunk/on_complete/on_fail
// callbacks; slow or full clients are dropped rather than blocking a chunk
// boundary.
type StatusStream struct {
	clients    map[*streamClient]bool
	broadcast  chan []byte
	register   chan *streamClient
	unregister chan *streamClient
	mu         sync.RWMutex
}

// NewStatusStream builds an idle StatusStream; call Run in a goroutine.
func NewStatusStream() *StatusStream {
	return &StatusStream{
		clients:    make(map[*streamClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
	}
}

// Run pumps registrations and broadcasts until the process exits.
func (s *StatusStream) Run() {
	l := logging.L()
	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			s.mu.Unlock()
			l.Info().Int("clients", s.clientCount()).Msg("status stream client connected")
			metrics.WebSocketConnections.Inc()

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			s.mu.Unlock()
			l.Info().Int("clients", s.clientCount()).Msg("status stream client disconnected")
			metrics.WebSocketConnections.Dec()

		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					metrics.WebSocketMessagesDroppedTotal.Inc()
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *StatusStream) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Publish fans an event out to every connected client. Never blocks: if the
// broadcast buffer is full the event is dropped and counted.
func (s *StatusStream) Publish(event ProgressEvent) {
	event.Timestamp = time.Now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		logging.L().Error().Err(err).Msg("status stream marshal error")
		return
	}
	select {
	case s.broadcast <- data:
		metrics.WebSocketMessagesBroadcastTotal.Inc()
	default:
		metrics.WebSocketMessagesDroppedTotal.Inc()
	}
}

// Handler upgrades GET /batch/status/stream to a WebSocket and serves
// progress events until the client disconnects.
func (s *StatusStream) Handler(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := &streamClient{conn: conn, send: make(chan []byte, 32)}
	s.register <- client

	go client.writePump()
	go client.readPump(s)
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) readPump(s *StatusStream) {
	defer func() {
		s.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		// Clients never send application data; this loop only detects closes.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
