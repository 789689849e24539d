package app

import "github.com/dkeye/attendmeet/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropConnection
)

// Policy decides what happens to a participant whose send buffer is full.
// The frame itself is always dropped.
type Policy interface {
	OnBackPressure(p core.Participant, t core.MessageType) BackpressureAction
}

// SimplePolicy disconnects participants that miss a membership change,
// since their view of the mesh can no longer be trusted. Anything else is
// just dropped.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.Participant, t core.MessageType) BackpressureAction {
	switch t {
	case core.TypeMemberJoined, core.TypeMemberLeft, core.TypeExistingMembers:
		return DropConnection
	}
	return NoAction
}
