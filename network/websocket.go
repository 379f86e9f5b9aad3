package network

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
	"golang.org/x/sync/errgroup"
)

// WebsocketHandler serves the same sessions as Net to websocket clients.
// Each binary message carries whole frames.
type WebsocketHandler struct {
	log          utils.Logger
	install      InstallCallback
	destroy      DestroyCallback
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

func NewWebsocketHandler(log utils.Logger, install InstallCallback, destroy DestroyCallback, writeTimeout time.Duration) *WebsocketHandler {
	return &WebsocketHandler{
		log:     log,
		install: install,
		destroy: destroy,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
	}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket: failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	name := fmt.Sprintf("ws:%s:%s", uuid.Must(uuid.NewV7()).String(), r.RemoteAddr)
	ctx := utils.WithDefaultArgs(r.Context(), "name", name)
	session := h.install(name)
	PeersConnected.Inc()
	defer func() {
		PeersConnected.Dec()
		session.Close()
		h.destroy(name, session)
	}()
	h.log.InfoCtx(ctx, "websocket: accept connection")

	if err := h.serve(ctx, conn, session); err != nil {
		h.log.WarnCtx(ctx, "websocket: session ended", "err", err)
	}
}

func (h *WebsocketHandler) serve(ctx context.Context, conn *websocket.Conn, session protocol.FeedDrainCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		for {
			mt, p, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to read message: %w", err)
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			WebsocketMessages.WithLabelValues("in").Inc()
			BytesRead.Add(float64(len(p)))
			recs, err := protocol.Split(bytes.NewBuffer(p))
			if err != nil {
				return err
			}
			if err := session.Drain(ctx, recs); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		// unblocks the reader
		defer conn.Close()
		for {
			recs, err := session.Feed(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if h.writeTimeout != 0 {
					conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, rec); err != nil {
					return fmt.Errorf("failed to write message: %w", err)
				}
				WebsocketMessages.WithLabelValues("out").Inc()
				BytesWritten.Add(float64(len(rec)))
			}
		}
	})

	return g.Wait()
}
