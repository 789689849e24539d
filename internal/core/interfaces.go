package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MessageType is the closed set of session event types on the signal channel.
type MessageType string

const (
	// client -> server
	TypeJoin    MessageType = "join"
	TypeLeave   MessageType = "leave"
	TypeCapture MessageType = "capture"
	TypePing    MessageType = "ping"

	// both directions
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "ice-candidate"
	TypeChat      MessageType = "chat"

	// server -> client
	TypeWelcome         MessageType = "welcome"
	TypeExistingMembers MessageType = "existing-members"
	TypeMemberJoined    MessageType = "member-joined"
	TypeMemberLeft      MessageType = "member-left"
	TypeLeft            MessageType = "left"
	TypeCaptureRequest  MessageType = "capture-request"
	TypeVerification    MessageType = "verification"
	TypePong            MessageType = "pong"
	TypeError           MessageType = "error"
)

// IsNegotiation reports whether t is relayed pairwise between peers.
func (t MessageType) IsNegotiation() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeCandidate
}

// Envelope is the routing wrapper around a negotiation payload.
// Payload is never inspected by the relay.
type Envelope struct {
	Kind    MessageType
	Sender  ConnID
	Target  ConnID
	Payload json.RawMessage
}

type MemberEvent struct {
	Type         MessageType `json:"type"`
	ConnectionID ConnID      `json:"connection_id"`
}

func MemberJoined(id ConnID) MemberEvent { return MemberEvent{Type: TypeMemberJoined, ConnectionID: id} }
func MemberLeft(id ConnID) MemberEvent   { return MemberEvent{Type: TypeMemberLeft, ConnectionID: id} }

type ExistingMembers struct {
	Type    MessageType `json:"type"`
	Room    string      `json:"room_code"`
	Members []ConnID    `json:"members"`
}

// Negotiation is an envelope as seen by its recipient, tagged with the sender.
type Negotiation struct {
	Type      MessageType     `json:"type"`
	Sender    ConnID          `json:"sender"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func NegotiationFrom(env Envelope) Negotiation {
	n := Negotiation{Type: env.Kind, Sender: env.Sender}
	if env.Kind == TypeCandidate {
		n.Candidate = env.Payload
	} else {
		n.SDP = env.Payload
	}
	return n
}

type ChatMessage struct {
	Type     MessageType     `json:"type"`
	Identity domain.Identity `json:"identity"`
	Text     string          `json:"text"`
}

// Encode marshals an outbound event into a Frame.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

// Welcome is the first event on a new connection.
type Welcome struct {
	Type         MessageType        `json:"type"`
	ConnectionID ConnID             `json:"connection_id"`
	ICEServers   []webrtc.ICEServer `json:"ice_servers"`
}

type CaptureRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

// VerificationReport tells a participant the outcome of one attempt.
type VerificationReport struct {
	Type      MessageType    `json:"type"`
	AttemptID string         `json:"attempt_id"`
	Outcome   domain.Outcome `json:"outcome"`
	At        time.Time      `json:"at"`
}

type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// Notice is an event that carries nothing but its type, like pong or left.
type Notice struct {
	Type MessageType `json:"type"`
}
