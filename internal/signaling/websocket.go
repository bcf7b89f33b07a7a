package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/rbac"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token auth happens before the upgrade; cross-origin dashboards are
	// expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts one websocket client to the hub's Conn interface. Send is
// non-blocking: a full buffer drops the connection rather than stalling a
// broadcast.
type wsConn struct {
	id        string
	ident     auth.Identity
	ws        *websocket.Conn
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) ID() string              { return c.id }
func (c *wsConn) Identity() auth.Identity { return c.ident }

// shutdown signals the write pump to close the socket. Safe to call from
// any number of goroutines.
func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsConn) Send(msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Slow consumer; let the write pump's close tear it down.
		c.shutdown()
	}
}

// Gateway owns the websocket endpoint: it upgrades connections, joins them
// to their identity rooms, and dispatches inbound frames to the relay.
type Gateway struct {
	svc   *Service
	hub   *Hub
	rooms Rooms
	jwt   *auth.Manager
	log   *slog.Logger
}

func NewGateway(svc *Service, hub *Hub, rooms Rooms, jwt *auth.Manager, log *slog.Logger) *Gateway {
	return &Gateway{svc: svc, hub: hub, rooms: rooms, jwt: jwt, log: log}
}

// Handle is the gin handler for the socket path.
func (g *Gateway) Handle(c *gin.Context) {
	ident, err := auth.IdentityFromWebsocketRequest(g.jwt, c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	conn := &wsConn{
		id:    uuid.NewString(),
		ident: ident,
		ws:    ws,
		send:  make(chan Message, sendBuffer),
		done:  make(chan struct{}),
	}

	g.joinIdentityRooms(conn)
	g.log.Info("socket connected", "conn_id", conn.id, "user_id", ident.UserID, "role", ident.Role)

	go g.writePump(conn)
	go g.readPump(conn)
}

// joinIdentityRooms places the connection in every room addressed by its
// identity, so invites and notices reach it without an explicit subscribe.
func (g *Gateway) joinIdentityRooms(conn *wsConn) {
	id := conn.ident
	g.hub.Join(g.rooms.Org(id.OrgID), conn)
	switch id.Role {
	case rbac.RoleStaff, rbac.RoleAdmin:
		staffID := id.StaffID
		if staffID == "" {
			staffID = id.UserID
		}
		g.hub.Join(g.rooms.Staff(staffID), conn)
		if id.Dept != "" {
			g.hub.Join(g.rooms.Dept(id.Dept), conn)
		}
	default:
		g.hub.Join(g.rooms.Client(id.UserID), conn)
	}
}

func (g *Gateway) readPump(conn *wsConn) {
	defer func() {
		g.hub.Remove(conn.id)
		conn.ws.Close()
		conn.shutdown()
		g.log.Info("socket disconnected", "conn_id", conn.id, "user_id", conn.ident.UserID)
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Warn("socket read error", "conn_id", conn.id, "err", err)
			}
			return
		}
		g.dispatch(conn, raw)
	}
}

func (g *Gateway) writePump(conn *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case msg := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-conn.done:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			conn.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch decodes one inbound frame and routes it to the relay. Errors go
// back to the sending connection only.
func (g *Gateway) dispatch(conn *wsConn, raw []byte) {
	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.Send(Message{Event: EventError, Data: ErrorNotice{Error: "malformed frame"}})
		return
	}

	ctx := context.Background()
	var callID string
	var err error

	switch frame.Event {
	case EventJoinCall:
		var p JoinCallPayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			callID = p.CallID
			err = g.svc.JoinCall(ctx, conn, p.CallID)
		}
	case EventAccept:
		var p AcceptPayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			callID = p.CallID
			_, err = g.svc.Accept(ctx, conn.ident, p.CallID)
		}
	case EventDecline:
		var p DeclinePayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			callID = p.CallID
			_, err = g.svc.Decline(ctx, conn.ident, p.CallID, p.Reason)
		}
	case EventSDP:
		var p SDPPayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			callID = p.CallID
			err = g.svc.RelaySDP(ctx, conn.id, p.CallID, p.Type, p.SDP)
		}
	case EventICE:
		var p ICEPayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			callID = p.CallID
			err = g.svc.RelayICE(ctx, conn.id, p.CallID, p.Candidate)
		}
	default:
		conn.Send(Message{Event: EventError, Data: ErrorNotice{Error: "unknown event " + frame.Event}})
		return
	}

	if err != nil {
		conn.Send(Message{Event: EventError, Data: ErrorNotice{CallID: callID, Error: publicError(err)}})
	}
}

// publicError maps store and relay errors to client-safe strings.
func publicError(err error) string {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return "call not found"
	case errors.Is(err, calls.ErrConflict):
		return "call already resolved"
	case errors.Is(err, ErrForbidden):
		return "not allowed"
	default:
		return "internal error"
	}
}
