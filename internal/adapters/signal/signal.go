package signal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const sendBuffer = 64

type SignalWSController struct {
	Orch *orch.Orchestrator

	cfg      *config.Config
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	ctl := &SignalWSController{Orch: o, cfg: cfg}
	ctl.upgrader = websocket.Upgrader{CheckOrigin: ctl.checkOrigin}
	return ctl
}

// checkOrigin allows everything when no origins are configured.
func (ctl *SignalWSController) checkOrigin(r *http.Request) bool {
	if len(ctl.cfg.AllowedOrigins) == 0 || slices.Contains(ctl.cfg.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(ctl.cfg.AllowedOrigins, origin) || slices.Contains(ctl.cfg.AllowedOrigins, u.Host)
}

// WsSignalConn is the core.SignalConnection of one WebSocket. Writes go
// through send so only the write pump touches the socket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and runs the connection until either
// side closes it. The session is torn down when the read pump exits.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.NewClientID()
	conn := newWsSignalConn(ws)
	sess, err := ctl.Orch.Connect(id, conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("session rejected")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, string(core.AsError(err).Code))
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(id)).Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	_ = sess.Notify("welcome", map[string]string{"clientId": string(id)})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
}
