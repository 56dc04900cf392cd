package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/racefeed/internal/adapters/fanout"
	"github.com/okian/racefeed/internal/domain/types"
	"github.com/okian/racefeed/pkg/logger"
)

const (
	// streamWriteTimeout bounds a single frame write. A client slower than
	// this is disconnected.
	streamWriteTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxClientMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamDependencies opens push subscriptions.
type StreamDependencies interface {
	Subscribe(ctx context.Context, eventID string, replay bool) (*fanout.Subscription, error)
}

// StreamHandler pushes change batches over WebSocket, one subscription per
// connection.
type StreamHandler struct {
	deps StreamDependencies
	log  logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps StreamDependencies) *StreamHandler {
	return &StreamHandler{deps: deps, log: logger.Get().Named("stream")}
}

// HandleStream handles GET /stream[?event=ID&replay=1] requests.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	const op = "api.stream"
	q := r.URL.Query()
	replay := false
	if v := q.Get("replay"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		replay = b
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.deps.Subscribe(ctx, q.Get("event"), replay)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	defer conn.Close()

	h.log.Debug(ctx, "stream opened",
		logger.String("subscription", sub.ID()),
		logger.String("event_id", sub.EventID()),
		logger.Bool("replay", replay))

	go func() {
		readPump(conn)
		cancel()
	}()
	h.writePump(ctx, conn, sub)

	h.log.Debug(ctx, "stream closed",
		logger.String("subscription", sub.ID()),
		logger.Uint64("dropped", sub.Dropped()))
}

// writePump forwards batches to the connection and keeps it alive with pings.
func (h *StreamHandler) writePump(ctx context.Context, conn *websocket.Conn, sub *fanout.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(streamWriteTimeout))
			return

		case b, ok := <-sub.Batches():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(streamWriteTimeout))
				return
			}
			data, err := json.Marshal(types.NewBatch(b))
			if err != nil {
				h.log.Error(ctx, "encode batch failed", logger.Error(err))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and detects disconnects. It blocks until
// the connection fails or is closed.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
