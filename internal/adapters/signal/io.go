package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/attendmeet/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

// error codes sent to clients
const (
	errBadPayload      = "bad_payload"
	errInvalidRoom     = "invalid_room"
	errInvalidIdentity = "invalid_identity"
	errNotInRoom       = "not_in_room"
	errRateLimited     = "rate_limited"
	errUnknownType     = "unknown_type"
	errInternal        = "internal"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(ctl.opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cl *client) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", cl.id.String()).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(cl.id)
		cl.conn.Close()
	}()

	ws := cl.conn.conn
	ws.SetReadLimit(ctl.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", cl.id.String()).Msg("readPump read error")
			}
			return
		}
		ctl.safeHandle(cl, data)
	}
}

// safeHandle keeps a panicking handler from taking the connection down.
func (ctl *SignalWSController) safeHandle(cl *client, data []byte) {
	var pc panics.Catcher
	pc.Try(func() { ctl.handleSignal(cl, data) })
	if r := pc.Recovered(); r != nil {
		log.Error().Str("module", "signal").Str("conn", cl.id.String()).Str("panic", r.String()).Msg("handler panicked")
		ctl.sendError(cl.conn, errInternal)
	}
}

func (ctl *SignalWSController) handleSignal(cl *client, data []byte) {
	var env struct {
		Type core.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(cl.conn, errBadPayload)
		return
	}

	switch env.Type {
	case core.TypeJoin:
		ctl.handleJoin(cl, data)
	case core.TypeLeave:
		ctl.handleLeave(cl)
	case core.TypeOffer, core.TypeAnswer, core.TypeCandidate:
		ctl.handleNegotiation(cl, env.Type, data)
	case core.TypeChat:
		ctl.handleChat(cl, data)
	case core.TypeCapture:
		ctl.handleCapture(cl, data)
	case core.TypePing:
		ctl.handlePing(cl.conn)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		ctl.sendError(cl.conn, errUnknownType)
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code string) {
	ctl.sendJSON(c, core.ErrorMessage{Type: core.TypeError, Error: code})
}
