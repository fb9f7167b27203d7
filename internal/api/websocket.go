package api

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/yourusername/trio-odds/internal/metrics"
	"github.com/yourusername/trio-odds/internal/models"
	"github.com/yourusername/trio-odds/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// FeedMessage is written to WebSocket subscribers for every stored snapshot
type FeedMessage struct {
	Type string            `json:"type"`
	Data *service.Snapshot `json:"data,omitempty"`
}

// feed tracks open WebSocket connections so shutdown can close them
type feed struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	done  chan struct{}
	once  sync.Once
}

func newFeed() *feed {
	return &feed{
		conns: make(map[*websocket.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

func (f *feed) add(c *websocket.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return false
	default:
	}
	f.conns[c] = struct{}{}
	metrics.UpdateWebSocketClients(len(f.conns))
	return true
}

func (f *feed) remove(c *websocket.Conn) {
	f.mu.Lock()
	delete(f.conns, c)
	metrics.UpdateWebSocketClients(len(f.conns))
	f.mu.Unlock()
}

func (f *feed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *feed) closeAll() {
	f.once.Do(func() { close(f.done) })
}

// originChecker allows same-origin requests, requests without an Origin header
// and any origin in allowed. A "*" entry allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raceKey := mux.Vars(r)["raceKey"]
	if err := models.ValidateRaceKey(raceKey); err != nil {
		s.fail(w, r, err)
		return
	}

	// Subscribe before the upgrade so no snapshot stored during the handshake is lost
	updates, cancel := s.odds.Subscribe(raceKey)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		s.logger.WithError(err).WithField("race_key", raceKey).Debug("WebSocket upgrade failed")
		return
	}
	if !s.feed.add(conn) {
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	log := s.logger.WithField("race_key", raceKey)
	log.Debug("WebSocket client subscribed")

	closed := make(chan struct{})
	go s.readPump(conn, closed)
	s.writePump(conn, updates, closed)

	cancel()
	s.feed.remove(conn)
	conn.Close()
	log.Debug("WebSocket client unsubscribed")
}

// readPump discards client messages and keeps the pong deadline fresh
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Debug("WebSocket read failed")
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, updates <-chan *service.Snapshot, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(FeedMessage{Type: "snapshot", Data: snap}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.feed.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
