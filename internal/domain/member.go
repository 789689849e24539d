package domain

// Member represents a participant's meta for the room it is joined to.
// No transport or lifecycle logic here.
type Member struct {
	Identity Identity
	Role     Role
}

func NewMember(identity Identity, role Role) Member {
	return Member{Identity: identity, Role: role}
}
