package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/attendmeet/internal/core"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, core.Notice{Type: core.TypePong})
}

func (ctl *SignalWSController) handleCapture(cl *client, data []byte) {
	type capturePayload struct {
		RequestID string `json:"request_id"`
		// base64 in JSON
		Sample []byte `json:"sample"`
	}
	var p capturePayload
	if err := json.Unmarshal(data, &p); err != nil || p.RequestID == "" {
		log.Warn().Err(err).Str("module", "signal").Msg("bad capture payload")
		ctl.sendError(cl.conn, errBadPayload)
		return
	}
	if !cl.conn.deliverCapture(p.RequestID, p.Sample) {
		log.Debug().Str("module", "signal").Str("conn", cl.id.String()).Str("request", p.RequestID).Msg("capture for no pending request")
	}
}

// Capture asks the client for a live sample and waits for the matching
// capture reply, ctx expiry or the connection closing.
func (c *WsSignalConn) Capture(ctx context.Context) ([]byte, error) {
	reqID := uuid.NewString()
	reply := make(chan []byte, 1)
	c.pmu.Lock()
	c.pending[reqID] = reply
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, reqID)
		c.pmu.Unlock()
	}()

	frame, err := core.Encode(core.CaptureRequest{Type: core.TypeCaptureRequest, RequestID: reqID})
	if err != nil {
		return nil, err
	}
	if err := c.TrySend(frame); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case sample := <-reply:
		return sample, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout: %w", ctx.Err())
	case <-c.done:
		return nil, ErrConnClosed
	}
}

func (c *WsSignalConn) deliverCapture(reqID string, sample []byte) bool {
	c.pmu.Lock()
	reply, ok := c.pending[reqID]
	delete(c.pending, reqID)
	c.pmu.Unlock()
	if !ok {
		return false
	}
	reply <- sample
	return true
}

// Report sends the outcome of an attempt to the client. Never blocks.
func (c *WsSignalConn) Report(a domain.Attempt) {
	frame, err := core.Encode(core.VerificationReport{
		Type:      core.TypeVerification,
		AttemptID: a.ID,
		Outcome:   a.Outcome,
		At:        a.Timestamp,
	})
	if err != nil {
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("attempt", a.ID).Msg("verification report dropped")
	}
}
