package v1alpha1

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qiita/qiita-ware/internal/auth"
	"github.com/qiita/qiita-ware/pkg/metrics"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// (GET /api/v1/messages)
// Messages streams the notifications of the user over a websocket: first the
// backlog, then live events. Each frame is one JSON message.
func (h *ServiceHandler) Messages(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())
	logger := zap.S().Named("messages").With("user", user.Username)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before the upgrade so nothing published after the handshake is missed
	sub, err := h.bus.Subscribe(ctx, user.Username)
	if err != nil {
		logger.Errorw("failed to subscribe", "error", err)
		renderError(w, r, http.StatusServiceUnavailable, "subscription failed")
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.Subscribers.Connect(user.Username)
	defer metrics.Subscribers.Disconnect(user.Username)

	// the client never sends data; reading detects the close and handles pongs
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					logger.Warnw("subscription ended", "error", err)
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e.Message); err != nil {
				logger.Debugw("failed to write message", "seq", e.Seq, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
