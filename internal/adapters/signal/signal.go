package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/app"
	"github.com/artemkas/watchparty/internal/config"
	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller is the signaling gateway: it owns the WebSocket endpoint,
// turns inbound messages into orchestrator calls and writes acks back.
// It is the only component that touches the network for control messages.
type Controller struct {
	Orch *app.Orchestrator
	Cfg  *config.Config

	joins *JoinRateLimiter
}

func NewController(orch *app.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{
		Orch:  orch,
		Cfg:   cfg,
		joins: NewJoinRateLimiter(10, time.Minute),
	}
}

// Conn wraps one WebSocket with a buffered outbound queue. TrySend never
// blocks: when the queue is full the frame is dropped for this peer only
// and the caller learns about it through the error.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection's pumps. Each
// connection is a fresh participant identity; the same user in two tabs
// is two participants.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := domain.ParticipantID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	conn := &Conn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sess := app.NewSession(sid, conn)
	ctl.Orch.Sessions.Bind(sess)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
