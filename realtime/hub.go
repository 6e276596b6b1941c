/*
hub.go - WebSocket fan-out of notification frames

PURPOSE:
  Keeps the open sockets of this process grouped by user and writes a
  frame to every socket of one user. A user with no open socket is not
  an error: the frame is simply not delivered.

AUTHENTICATION:
  The socket URL carries ?token=<jwt>. The token is checked before the
  upgrade; a bad token gets 401 and no socket.

MULTI-INSTANCE:
  A Hub only knows its own sockets. RedisRelay (relay.go) republishes
  frames so every instance's Hub sees them.
*/
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/warp/finance-engine/ledger"
)

// defaultWriteTimeout bounds a single socket write when ctx has no deadline.
const defaultWriteTimeout = 2 * time.Second

// Authenticator maps the ?token= value to a user.
type Authenticator func(token string) (ledger.UserID, error)

type conn struct {
	id   string
	ws   *websocket.Conn
	wmu  sync.Mutex
	user ledger.UserID
}

func (c *conn) write(ctx context.Context, frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return websocket.Message.Send(c.ws, string(frame))
}

// Hub implements notify.Broadcaster for sockets held by this process.
type Hub struct {
	mu     sync.RWMutex
	groups map[ledger.UserID]map[string]*conn
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{groups: make(map[ledger.UserID]map[string]*conn), logger: logger}
}

// Broadcast writes frame to every socket of user.
func (h *Hub) Broadcast(ctx context.Context, user ledger.UserID, frame []byte) error {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.groups[user]))
	for _, c := range h.groups[user] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var errs []error
	for _, c := range targets {
		if err := c.write(ctx, frame); err != nil {
			errs = append(errs, fmt.Errorf("conn %s: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of open sockets of user.
func (h *Hub) Count(user ledger.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[user])
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[c.user]
	if !ok {
		group = make(map[string]*conn)
		h.groups[c.user] = group
	}
	group[c.id] = c
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[c.user]
	delete(group, c.id)
	if len(group) == 0 {
		delete(h.groups, c.user)
	}
}

// Handler authenticates ?token= and upgrades to a WebSocket that receives
// the user's frames until the client disconnects.
func (h *Hub) Handler(auth Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := auth(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		srv := websocket.Server{
			// Origin is not checked here; tokens are the access control.
			Handshake: func(*websocket.Config, *http.Request) error { return nil },
			Handler: func(ws *websocket.Conn) {
				h.serve(ws, user)
			},
		}
		srv.ServeHTTP(w, r)
	})
}

func (h *Hub) serve(ws *websocket.Conn, user ledger.UserID) {
	c := &conn{id: uuid.NewString(), ws: ws, user: user}
	h.add(c)
	h.logger.Debug("socket connected", "user_id", user, "conn_id", c.id)
	defer func() {
		h.remove(c)
		ws.Close()
		h.logger.Debug("socket disconnected", "user_id", user, "conn_id", c.id)
	}()

	// Clients never send anything meaningful; reading detects the close.
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			return
		}
	}
}
