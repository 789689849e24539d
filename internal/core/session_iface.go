package core

// ConnID is the opaque identifier of one live participant connection.
// It is created on connect and never reused.
type ConnID string

func (id ConnID) String() string { return string(id) }

// Participant binds a connection id and its transport endpoint.
// This is what the registry stores and the relay fans out to.
type Participant interface {
	ID() ConnID
	Signal() SignalConnection
}
