package core

// participant implements Participant by pairing an id with its transport.
type participant struct {
	id   ConnID
	conn SignalConnection
}

func NewParticipant(id ConnID, conn SignalConnection) Participant {
	return &participant{id: id, conn: conn}
}

func (p *participant) ID() ConnID               { return p.id }
func (p *participant) Signal() SignalConnection { return p.conn }
