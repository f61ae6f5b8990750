package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/metrics"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a silent peer stays connected.
	wsPongWait = 60 * time.Second

	// wsPingPeriod must be shorter than wsPongWait so the peer always
	// has a ping to answer before the read deadline fires.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsReadLimit caps inbound frames. Clients only ever send control
	// frames; anything larger is a misbehaving peer.
	wsReadLimit = 512
)

// The gallery is a local tool; browsers connect from whatever origin
// the UI is served on.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dlqEventsHandler handles GET /ws/dlq-events. It upgrades the
// connection, attaches a bus subscription, and streams every pattern
// event as a JSON frame. The optional streams query narrows delivery
// to matching stream names. Client frames are read only to keep the
// connection alive.
func (s *Server) dlqEventsHandler(c *gin.Context) {
	sub, err := s.bus.Subscribe(events.SubscribeOptions{
		BufferSize:   s.cfg.Events.SinkBuffer,
		StreamFilter: c.Query("streams"),
	})
	if err != nil {
		// The only subscribe failure is a filter that does not compile.
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		s.bus.Unsubscribe(sub)
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	metrics.WebsocketConnections.Inc()
	slog.Info("WebSocket client connected", "subscription_id", sub.ID(), "remote", conn.RemoteAddr().String())

	client := &wsClient{conn: conn, sub: sub, done: make(chan struct{})}
	go client.readPump()
	client.writePump(s.bus)

	metrics.WebsocketConnections.Dec()
	slog.Info("WebSocket client disconnected", "subscription_id", sub.ID(), "dropped", sub.Dropped())
}

// wsClient is one telemetry connection. The read pump discards client
// frames and closes done when the peer goes away; the write pump owns
// the connection's write side until then.
type wsClient struct {
	conn *websocket.Conn
	sub  *events.Subscription
	done chan struct{}
}

func (w *wsClient) readPump() {
	defer close(w.done)

	w.conn.SetReadLimit(wsReadLimit)
	_ = w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *wsClient) writePump(bus *events.Bus) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		bus.Unsubscribe(w.sub)
		_ = w.conn.Close()
	}()

	// Greet before streaming so clients can confirm the feed is live.
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.conn.WriteJSON(events.Info("Connected to pattern event feed")); err != nil {
		return
	}

	for {
		select {
		case evt := <-w.sub.Events():
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}
