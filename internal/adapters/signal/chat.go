package signal

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/attendmeet/internal/app"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxChatText = 2000

func (ctl *SignalWSController) handleChat(cl *client, data []byte) {
	type chatPayload struct {
		Room string `json:"room_code"`
		Text string `json:"text"`
	}
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad chat payload")
		ctl.sendError(cl.conn, errBadPayload)
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" || utf8.RuneCountInString(text) > maxChatText {
		ctl.sendError(cl.conn, errBadPayload)
		return
	}
	code, err := domain.ParseRoomCode(p.Room)
	if err != nil {
		ctl.sendError(cl.conn, errInvalidRoom)
		return
	}
	if cl.member.Identity == "" {
		ctl.sendError(cl.conn, errNotInRoom)
		return
	}
	if !ctl.chat.Allow(cl.member.Identity) {
		log.Info().Str("module", "signal").Str("identity", cl.member.Identity.String()).Msg("chat rate limited")
		ctl.sendError(cl.conn, errRateLimited)
		return
	}

	if err := ctl.Orch.Chat(cl.id, code, text); err != nil {
		if errors.Is(err, app.ErrNotInRoom) {
			ctl.sendError(cl.conn, errNotInRoom)
			return
		}
		log.Error().Err(err).Str("module", "signal").Msg("chat")
	}
}
