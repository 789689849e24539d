package orch

import (
	"slices"

	"github.com/dkeye/attendmeet/internal/app"
	"github.com/dkeye/attendmeet/internal/core"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/dkeye/attendmeet/internal/verify"
	"github.com/rs/zerolog/log"
)

// Verifier owns the per-participant verification schedules.
type Verifier interface {
	Start(id core.ConnID, identity domain.Identity, room domain.RoomCode, subject verify.Subject) *verify.Session
	Stop(id core.ConnID)
	Session(id core.ConnID) (*verify.Session, bool)
}

// Orchestrator ties room membership, relaying and verification together.
// Adapters call it for every participant event.
type Orchestrator struct {
	Registry *app.Registry
	Relay    *app.Relay
	// Verifier is nil when verification is disabled.
	Verifier    Verifier
	VerifyRoles []domain.Role
}

func (o *Orchestrator) Connect(p core.Participant) {
	o.Registry.Bind(p)
	log.Info().Str("module", "orch").Str("conn", p.ID().String()).Msg("participant connected")
}

// Join admits id into code. Members of a room id moved away from are told
// it left; its verification follows the new membership.
func (o *Orchestrator) Join(id core.ConnID, code domain.RoomCode, member domain.Member, subject verify.Subject) error {
	a, err := o.Registry.Join(code, id, member, o.Relay.Announce)
	if err != nil {
		return err
	}
	if a.Previous != "" {
		o.Relay.BroadcastRoom(a.Previous, core.TypeMemberLeft, core.MemberLeft(id), id)
		log.Info().Str("module", "orch").Str("conn", id.String()).Str("from_room", a.Previous.String()).Str("room", code.String()).Msg("moved room")
	}
	o.syncVerification(id, a, member, subject)
	return nil
}

func (o *Orchestrator) syncVerification(id core.ConnID, a app.Admission, member domain.Member, subject verify.Subject) {
	if o.Verifier == nil || subject == nil {
		return
	}
	if !o.Verifies(member.Role) {
		o.Verifier.Stop(id)
		return
	}
	if a.Rejoin {
		if _, ok := o.Verifier.Session(id); ok {
			return
		}
	}
	o.Verifier.Start(id, member.Identity, a.Room, subject)
}

// Verifies reports whether participants with role get verified.
func (o *Orchestrator) Verifies(role domain.Role) bool {
	return slices.Contains(o.VerifyRoles, role)
}

// Leave takes id out of its room but keeps the connection.
func (o *Orchestrator) Leave(id core.ConnID) (domain.RoomCode, bool) {
	if o.Verifier != nil {
		o.Verifier.Stop(id)
	}
	return o.Relay.Leave(id)
}

func (o *Orchestrator) Disconnect(id core.ConnID) {
	if o.Verifier != nil {
		o.Verifier.Stop(id)
	}
	o.Relay.Disconnect(id)
	log.Info().Str("module", "orch").Str("conn", id.String()).Msg("participant disconnected")
}

func (o *Orchestrator) Forward(env core.Envelope) error {
	return o.Relay.Forward(env)
}

func (o *Orchestrator) Chat(sender core.ConnID, code domain.RoomCode, text string) error {
	return o.Relay.Chat(sender, code, text)
}

func (o *Orchestrator) Rooms() []app.RoomInfo {
	return o.Registry.List()
}

// NewRoomCode returns a generated code no live room uses.
func (o *Orchestrator) NewRoomCode() domain.RoomCode {
	return domain.NewRoomCode(o.Registry.InUse)
}
