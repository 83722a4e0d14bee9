package liveboard

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/novadental/clinic-api/internal/http/middleware"
	"github.com/novadental/clinic-api/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware gates browser origins upstream.
	},
}

// Handler upgrades staff connections to WebSockets and attaches them to the
// hub.
type Handler struct {
	hub    *Hub
	logger *logging.Logger
}

// NewHandler creates a live board handler.
func NewHandler(hub *Hub, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{hub: hub, logger: logger}
}

// Connect handles GET /api/ws/appointments. Staff only; an optional
// clinic_id query parameter scopes the feed to one location.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if !ident.Staff() {
		http.Error(w, "staff only", http.StatusForbidden)
		return
	}

	var clinicID uuid.UUID
	if raw := r.URL.Query().Get("clinic_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid clinic_id", http.StatusBadRequest)
			return
		}
		clinicID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("liveboard: upgrade failed", "error", err)
		return
	}

	c := &client{
		clinic: clinicID,
		send:   make(chan []byte, 64),
	}
	h.hub.register(c)
	h.logger.Info("liveboard: client connected", "user_id", ident.UserID, "clinic_id", clinicID)

	go h.writePump(c, conn)
	go h.readPump(c, conn)
}

// readPump drains inbound frames so pings are answered and a close from the
// client tears the connection down.
func (h *Handler) readPump(c *client, conn *websocket.Conn) {
	defer func() {
		h.hub.unregister(c)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(c *client, conn *websocket.Conn) {
	defer conn.Close()
	for msg := range c.send {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
