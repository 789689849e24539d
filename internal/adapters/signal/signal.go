package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/attendmeet/internal/app/orch"
	"github.com/dkeye/attendmeet/internal/core"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// IdentityKey is the gin context key under which the auth boundary leaves
// the verified identity of the caller.
const IdentityKey = "identity"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
	ICEServers []webrtc.ICEServer

	ChatLimit    int
	ChatInterval time.Duration
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
	chat *RoomRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch: o,
		opts: opts,
		chat: NewRoomRateLimiter(opts.ChatLimit, opts.ChatInterval),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	pmu     sync.Mutex
	pending map[string]chan []byte
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn:    ws,
		send:    make(chan core.Frame, buffer),
		done:    make(chan struct{}),
		pending: make(map[string]chan []byte),
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
	close(c.send)
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is the per-connection state owned by the read pump.
type client struct {
	id   core.ConnID
	conn *WsSignalConn
	// identity handed over by the auth boundary, empty if none
	identity domain.Identity
	member   domain.Member
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	var identity domain.Identity
	if raw := c.GetString(IdentityKey); raw != "" {
		id, err := domain.ParseIdentity(raw)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("rejecting connection with invalid identity")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errInvalidIdentity})
			return
		}
		identity = id
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	cl := &client{
		id:       core.ConnID(uuid.NewString()),
		conn:     newWsSignalConn(ws, ctl.opts.SendBuffer),
		identity: identity,
	}
	log.Info().Str("module", "signal").Str("conn", cl.id.String()).Str("identity", identity.String()).Msg("new WS connection")

	ctl.Orch.Connect(core.NewParticipant(cl.id, cl.conn))
	ctl.sendJSON(cl.conn, core.Welcome{
		Type:         core.TypeWelcome,
		ConnectionID: cl.id,
		ICEServers:   ctl.opts.ICEServers,
	})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cl.conn)
	go ctl.readPump(ctx, cancel, cl)
}
