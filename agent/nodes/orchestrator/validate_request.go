package orchestratornode

import (
	"errors"
	"strings"
	"time"

	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = statex.ErrInvalidSession
	ErrMachineHalted  = errors.New("orchestrator machine already finished")
)

type GraphInput struct {
	SessionID string
	Text      string

	// Previous is the stored session, nil on the first turn.
	Previous *statex.SessionRecord
}

// GraphState is threaded through every node of one turn.
type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time
	Previous  *statex.SessionRecord

	State *statex.TravelAgentState
	Phase Phase
	Route Route
	Hops  int

	// TurnStart is the index of the first message produced by this turn's
	// specialists, i.e. just after the user message.
	TurnStart int
	Reply     string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	if in.Previous != nil && in.Previous.SessionID != sessionID {
		return nil, errors.New("previous session does not match session id")
	}

	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
		Previous:  in.Previous,
		Phase:     PhaseRouting,
	}, nil
}
