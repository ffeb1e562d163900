package egress

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orderflow/internal/instrumentation"
	"orderflow/internal/model"
	"orderflow/internal/state"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Broadcaster fans out egress events to websocket subscribers, replaying
// recent history from the ring buffer before switching a new client onto
// the live feed.
type Broadcaster struct {
	hub    *hub
	buffer *state.RingBuffer
	log    *zap.Logger
}

// NewBroadcaster constructs a Broadcaster backed by buffer for history
// replay. Call Run to start fanning out events from input.
func NewBroadcaster(buffer *state.RingBuffer, log *zap.Logger, met *instrumentation.Metrics) *Broadcaster {
	return &Broadcaster{
		hub:    newHub(log, met),
		buffer: buffer,
		log:    log,
	}
}

// Run drives the fan-out loop until input is closed. Intended to be
// launched in its own goroutine.
func (b *Broadcaster) Run(input <-chan model.Event) {
	b.hub.run(input)
}

// Handler returns the http.HandlerFunc to mount at the websocket
// endpoint (e.g. "/ws").
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.serveWs(w, r)
	}
}

type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	log        *zap.Logger
	met        *instrumentation.Metrics
}

func newHub(log *zap.Logger, met *instrumentation.Metrics) *hub {
	return &hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
		log:        log,
		met:        met,
	}
}

func (h *hub) run(input <-chan model.Event) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.met.BroadcastClientsConnected.Set(float64(len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.met.BroadcastClientsConnected.Set(float64(len(h.clients)))
			}
		case e, ok := <-input:
			if !ok {
				return
			}
			// Serialize once per event, fan out the same bytes.
			msg := e.AppendMsgPack(make([]byte, 0, 128))
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop this tick rather than block the hub.
					h.met.BroadcastMessagesDroppedTotal.Inc()
				}
			}
		}
	}
}

type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

// =====================================================================
// STREAMING HISTORY PROTOCOL
// =====================================================================
//
// Rather than one giant MsgPack array (which blocks client-side decode),
// history replays as individual small messages:
//
//   message 1:   MsgPack uint32 = count of history events
//   message 2..N+1: individual event envelopes, ~128 bytes each
//   after:       client is registered for live events
//
// A client detects the header by its decoded type (a bare number) and
// shows progress until all history messages arrive.
func (b *Broadcaster) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("broadcaster: upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: b.hub, conn: conn, send: make(chan []byte, 4096)}

	if b.buffer != nil {
		history := b.buffer.GetAll()
		if len(history) > 0 {
			n := uint32(len(history))
			header := []byte{0xce, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
			if err := conn.WriteMessage(websocket.BinaryMessage, header); err != nil {
				conn.Close()
				return
			}
			for _, e := range history {
				msg := e.AppendMsgPack(make([]byte, 0, 128))
				if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
					conn.Close()
					return
				}
			}
		}
	}

	c.hub.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		w, err := c.conn.NextWriter(websocket.BinaryMessage)
		if err != nil {
			return
		}
		w.Write(msg)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
