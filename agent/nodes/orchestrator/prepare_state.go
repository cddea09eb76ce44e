package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
)

// PrepareState creates or resumes the session state and appends the user
// message of this turn.
func PrepareState(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	var (
		st  *statex.TravelAgentState
		err error
	)
	if in.Previous != nil {
		st, err = statex.Resume(in.Text, in.Previous, in.Now)
	} else {
		st, err = statex.NewInitialState(in.Text, in.SessionID, in.Now)
	}
	if err != nil {
		return nil, err
	}

	st = st.AddMessage(statex.RoleUser, in.Text, "", in.Now)
	in.State = st
	in.TurnStart = len(st.Messages)
	return in, nil
}
