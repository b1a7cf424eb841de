package api

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ernie/arena-relay/internal/auth"
	"github.com/ernie/arena-relay/internal/domain"
	"github.com/ernie/arena-relay/internal/wire"
)

const (
	handshakeDeadline = 10 * time.Second
	readDeadline      = 60 * time.Second
	writeDeadline     = 10 * time.Second
	pingInterval      = 30 * time.Second
	maxInboundBytes   = 4096
)

// getClientIP extracts the real client IP, checking proxy headers first
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (may contain multiple IPs, first is the client)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (strip port if present)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// wsWriter adapts a websocket connection to broadcast.FrameWriter. All
// writes serialize through one mutex; a background ticker keeps the
// connection alive with pings.
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
	stop chan struct{}
	once sync.Once
}

func newWSWriter(conn *websocket.Conn) *wsWriter {
	w := &wsWriter{conn: conn, stop: make(chan struct{})}
	go w.pingLoop()
	return w
}

func (w *wsWriter) WriteBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsWriter) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (w *wsWriter) Close() error {
	w.once.Do(func() {
		close(w.stop)
		w.mu.Lock()
		w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		w.conn.WriteMessage(websocket.CloseMessage, []byte{})
		w.mu.Unlock()
	})
	return w.conn.Close()
}

// handleGameSocket upgrades the game channel and runs the handshake: the
// first inbound frame must be a hello carrying the optional identity
// token. On auth failure the client gets a close frame with the reason
// code, never a silent hang.
func (r *Router) handleGameSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	writer := newWSWriter(conn)

	conn.SetReadLimit(maxInboundBytes)
	conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
	_, data, err := conn.ReadMessage()
	if err != nil {
		writer.Close()
		return
	}
	msg, err := wire.DecodeInbound(data)
	if err != nil || msg.Kind != wire.InboundHello {
		writer.WriteBinary(wire.EncodeClose(0, domain.CloseProtocolViolation))
		writer.Close()
		return
	}

	ua := msg.Hello.UserAgent
	if ua == "" {
		ua = req.UserAgent()
	}
	sess, err := r.srv.Manager.Open(auth.Handshake{
		Token:     msg.Hello.Token,
		Name:      msg.Hello.Name,
		UserAgent: ua,
		RemoteIP:  getClientIP(req),
	}, writer)
	if err != nil {
		log.Printf("Handshake from %s rejected: %v", getClientIP(req), err)
		writer.WriteBinary(wire.EncodeClose(0, domain.CloseAuthFailed))
		writer.Close()
		return
	}

	go r.readPump(sess.SessionID(), conn)
}

// readPump feeds inbound messages to the session manager until the
// connection dies.
func (r *Router) readPump(sessionID string, conn *websocket.Conn) {
	defer r.srv.Manager.Close(sessionID, domain.CloseClientQuit)

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		if err := r.srv.Manager.Route(sessionID, data); err != nil && err != domain.ErrProtocol {
			return
		}
	}
}
