// Package realtime keeps a registry of connected websocket sessions and
// offers best-effort delivery to users, roles and patients. Delivery reports
// a boolean; it never blocks the caller on a slow client.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clinicore/clinic-ops/internal/identity"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

// Bus is the delivery surface the notification dispatcher consumes.
type Bus interface {
	SendToUser(userID uuid.UUID, payload any) bool
	SendToRole(role identity.Role, payload any) bool
	SendToPatient(patientID uuid.UUID, payload any) bool
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	sendBufferSize = 16
)

type session struct {
	caller identity.Caller
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks live sessions. One user may hold several concurrent sessions
// (multiple tabs/devices); all of them receive each message.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*session]struct{}
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleWS upgrades the request and keeps the session registered until the
// peer disconnects. The caller identity must already be resolved by the auth
// middleware.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &session{caller: caller, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket session opened", "user_id", caller.UserID, "role", caller.Role)

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) readPump(s *session) {
	defer h.drop(s)
	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Inbound frames are ignored; the socket is server-push only.
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(s *session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.send)
	}
	h.mu.Unlock()
	s.conn.Close()
}

// SendToUser delivers payload to every session of one user. Returns true if
// at least one session accepted it.
func (h *Hub) SendToUser(userID uuid.UUID, payload any) bool {
	return h.broadcast(payload, func(s *session) bool { return s.caller.UserID == userID })
}

// SendToRole delivers payload to every session held by the given role.
func (h *Hub) SendToRole(role identity.Role, payload any) bool {
	return h.broadcast(payload, func(s *session) bool { return s.caller.Role == role })
}

// SendToPatient delivers payload to sessions linked to one patient record.
func (h *Hub) SendToPatient(patientID uuid.UUID, payload any) bool {
	return h.broadcast(payload, func(s *session) bool { return s.caller.PatientID == patientID })
}

func (h *Hub) broadcast(payload any, match func(*session) bool) bool {
	msg, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("realtime: marshal payload", "error", err)
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := false
	for s := range h.sessions {
		if !match(s) {
			continue
		}
		select {
		case s.send <- msg:
			delivered = true
		default:
			// Slow consumer; skip rather than block the fanout.
		}
	}
	return delivered
}

var _ Bus = (*Hub)(nil)
