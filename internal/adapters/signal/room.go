package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/attendmeet/internal/app"
	"github.com/dkeye/attendmeet/internal/core"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(cl *client, data []byte) {
	type joinPayload struct {
		Room     string `json:"room_code"`
		Identity string `json:"identity"`
		Role     string `json:"role,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(cl.conn, errBadPayload)
		return
	}

	code, err := domain.ParseRoomCode(p.Room)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", p.Room).Msg("join rejected")
		ctl.sendError(cl.conn, errInvalidRoom)
		return
	}

	// the auth boundary wins over whatever the client claims
	identity := cl.identity
	if identity == "" {
		identity, err = domain.ParseIdentity(p.Identity)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("join rejected")
			ctl.sendError(cl.conn, errInvalidIdentity)
			return
		}
	}
	role, err := domain.ParseRole(p.Role)
	if err != nil {
		ctl.sendError(cl.conn, errBadPayload)
		return
	}

	member := domain.NewMember(identity, role)
	if err := ctl.Orch.Join(cl.id, code, member, cl.conn); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", cl.id.String()).Msg("join failed")
		ctl.sendError(cl.conn, errNotInRoom)
		return
	}
	cl.member = member
	log.Info().
		Str("module", "signal").
		Str("conn", cl.id.String()).
		Str("room", code.String()).
		Str("identity", identity.String()).
		Str("role", string(role)).
		Msg("join")
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(cl *client) {
	code, ok := ctl.Orch.Leave(cl.id)
	log.Info().Str("module", "signal").Str("conn", cl.id.String()).Str("room", code.String()).Bool("was_member", ok).Msg("leave")
	ctl.sendJSON(cl.conn, core.Notice{Type: core.TypeLeft})
}

func (ctl *SignalWSController) handleNegotiation(cl *client, kind core.MessageType, data []byte) {
	type negotiationPayload struct {
		Target    core.ConnID     `json:"target"`
		SDP       json.RawMessage `json:"sdp"`
		Candidate json.RawMessage `json:"candidate"`
	}
	var p negotiationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(kind)).Msg("bad negotiation payload")
		ctl.sendError(cl.conn, errBadPayload)
		return
	}
	payload := p.SDP
	if kind == core.TypeCandidate {
		payload = p.Candidate
	}

	err := ctl.Orch.Forward(core.Envelope{
		Kind:    kind,
		Sender:  cl.id,
		Target:  p.Target,
		Payload: payload,
	})
	// departed targets are dropped silently
	if errors.Is(err, app.ErrNotInRoom) {
		ctl.sendError(cl.conn, errNotInRoom)
	}
}
