// Package channel binds one WebSocket connection to one conversation
// session. The connection's lifetime bounds the session's: closing the
// channel cancels whatever generation is in flight.
package channel

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/logger"
	"github.com/parleybot/parley/internal/protocol"
	"github.com/parleybot/parley/internal/session"
	"github.com/parleybot/parley/internal/store"
)

// OwnerHeader identifies the channel's owner. Token validation happens in
// front of this handler.
const OwnerHeader = "X-Owner-ID"

// Handler upgrades HTTP requests to chat channels.
type Handler struct {
	store    *store.Store
	llm      llm.Client
	tools    session.ToolSource
	cfg      config.LLMConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the channel handler.
func NewHandler(st *store.Store, client llm.Client, toolSource session.ToolSource, cfg config.LLMConfig) *Handler {
	return &Handler{store: st, llm: client, tools: toolSource, cfg: cfg}
}

// ServeHTTP runs one channel: upgrade, then a read loop that feeds decoded
// frames to the session until the peer goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		http.Error(w, "missing "+OwnerHeader+" header", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := session.New(h.store, h.llm, h.tools, h.cfg, owner, &connSender{conn: conn})
	defer sess.Close()

	logger.L.Info("channel opened", "owner", owner, "remote", conn.RemoteAddr().String())
	for {
		var f protocol.ClientFrame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.L.Warn("channel read failed", "owner", owner, "error", err)
			}
			break
		}
		sess.Handle(ctx, f)
	}
	logger.L.Info("channel closed", "owner", owner)
}

// connSender serializes outbound writes; the generation goroutine and the
// title task both emit through it.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connSender) Send(f protocol.ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}
