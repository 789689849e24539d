package domain

import "time"

// Outcome is the closed set of verification results.
type Outcome string

const (
	OutcomeMatched          Outcome = "matched"
	OutcomeNotMatched       Outcome = "not-matched"
	OutcomeReferenceMissing Outcome = "reference-missing"
	OutcomeGatewayError     Outcome = "gateway-error"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeMatched, OutcomeNotMatched, OutcomeReferenceMissing, OutcomeGatewayError:
		return true
	}
	return false
}

// Attempt is one verification cycle. Immutable once recorded.
type Attempt struct {
	ID        string
	Identity  Identity
	Room      RoomCode
	Timestamp time.Time
	Outcome   Outcome
	// Detail carries the engine's raw verdict or the failure reason.
	Detail string
}
