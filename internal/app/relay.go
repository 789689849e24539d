package app

import (
	"github.com/dkeye/attendmeet/internal/core"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/dkeye/attendmeet/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Relay forwards session events between participants. It keeps no state of
// its own and reads the Registry on every message. Delivery is fire-and-forget:
// frames are enqueued on the recipient's connection and never awaited.
type Relay struct {
	Registry *Registry
	Policy   Policy
	Metrics  *metrics.Metrics
}

func NewRelay(reg *Registry, policy Policy, m *metrics.Metrics) *Relay {
	return &Relay{Registry: reg, Policy: policy, Metrics: m}
}

// Forward delivers a negotiation envelope to its target, tagged with the
// sender. Envelopes for targets outside the sender's room are dropped.
func (rl *Relay) Forward(env core.Envelope) error {
	target, err := rl.Registry.Peer(env.Sender, env.Target)
	if err != nil {
		rl.Metrics.Dropped("unknown_target")
		log.Debug().
			Err(err).
			Str("module", "app.relay").
			Str("type", string(env.Kind)).
			Str("sender", env.Sender.String()).
			Str("target", env.Target.String()).
			Msg("envelope dropped")
		return err
	}
	frame, err := core.Encode(core.NegotiationFrom(env))
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode envelope")
		return err
	}
	rl.deliver(target, env.Kind, frame)
	return nil
}

// Announce is the admit hook for Registry.Join: existing members learn the
// newcomer, the newcomer learns the existing members.
func (rl *Relay) Announce(a Admission) {
	if !a.Rejoin && len(a.Existing) > 0 {
		ev := core.MemberJoined(a.Joiner.ID())
		if frame, err := core.Encode(ev); err == nil {
			for _, p := range a.Existing {
				rl.deliver(p, ev.Type, frame)
			}
		}
	}
	rl.Send(a.Joiner, core.TypeExistingMembers, core.ExistingMembers{
		Type:    core.TypeExistingMembers,
		Room:    a.Room.String(),
		Members: a.Snapshot(),
	})
}

// BroadcastRoom delivers v to every current member of code except one.
// It returns the number of members the frame was enqueued for.
func (rl *Relay) BroadcastRoom(code domain.RoomCode, t core.MessageType, v any, except core.ConnID) int {
	frame, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("type", string(t)).Msg("encode broadcast")
		return 0
	}
	sent := 0
	for _, p := range rl.Registry.Members(code) {
		if p.ID() == except {
			continue
		}
		if rl.deliver(p, t, frame) {
			sent++
		}
	}
	log.Debug().Str("module", "app.relay").Str("room", code.String()).Str("type", string(t)).Int("sent_to", sent).Msg("broadcast")
	return sent
}

// Send delivers v to a single participant.
func (rl *Relay) Send(p core.Participant, t core.MessageType, v any) bool {
	frame, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("type", string(t)).Msg("encode message")
		return false
	}
	return rl.deliver(p, t, frame)
}

// Leave removes id from its room and then tells the remaining members, so
// nobody can still see id as a valid target once notified.
func (rl *Relay) Leave(id core.ConnID) (domain.RoomCode, bool) {
	code, ok := rl.Registry.Leave(id)
	if !ok {
		return "", false
	}
	rl.BroadcastRoom(code, core.TypeMemberLeft, core.MemberLeft(id), id)
	return code, true
}

// Disconnect runs the leave path and forgets the connection.
func (rl *Relay) Disconnect(id core.ConnID) {
	rl.Leave(id)
	rl.Registry.Unbind(id)
}

// Chat broadcasts text to every member of the sender's room, sender included.
func (rl *Relay) Chat(sender core.ConnID, code domain.RoomCode, text string) error {
	room, member, ok := rl.Registry.RoomOf(sender)
	if !ok || room != code {
		rl.Metrics.Dropped("not_in_room")
		return ErrNotInRoom
	}
	rl.BroadcastRoom(room, core.TypeChat, core.ChatMessage{
		Type:     core.TypeChat,
		Identity: member.Identity,
		Text:     text,
	}, "")
	return nil
}

func (rl *Relay) deliver(p core.Participant, t core.MessageType, frame core.Frame) bool {
	if err := p.Signal().TrySend(frame); err != nil {
		rl.Metrics.Dropped("backpressure")
		log.Warn().Err(err).Str("module", "app.relay").Str("conn", p.ID().String()).Str("type", string(t)).Msg("frame dropped")
		if rl.Policy != nil && rl.Policy.OnBackPressure(p, t) == DropConnection {
			log.Warn().Str("module", "app.relay").Str("conn", p.ID().String()).Msg("dropping slow connection")
			p.Signal().Close()
		}
		return false
	}
	rl.Metrics.Delivered(string(t))
	return true
}
