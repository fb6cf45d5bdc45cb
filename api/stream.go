package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GET /api/v1/stream
//
// Streams the events of the owner's devices as JSON messages until the
// client goes away.
func (r *Resolver) Stream(c *gin.Context) {
	owner := ownerOf(c)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before upgrading so no event after the handshake is missed.
	events := r.scheduler.Subscribe(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote_addr", c.Request.RemoteAddr))
		return
	}
	defer conn.Close()

	r.log.Debug("stream opened", zap.Uint64("owner", owner.ID), zap.String("remote_addr", c.Request.RemoteAddr))
	go readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.OwnerID != owner.ID {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				r.log.Debug("stream closed", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev model.DeviceEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

// readPump discards client messages and cancels the stream once the client
// disconnects.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
