package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
)

// Finalize marks the turn complete and collects the reply. A turn routed
// straight to completion has no agent message and an empty reply.
func Finalize(in *GraphState) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Phase != PhaseFinalizing {
		return nil, fmt.Errorf("%w: finalize called in phase %q", contractx.ErrValidation, in.Phase)
	}

	in.State = in.State.Update(in.Now, func(s *statex.TravelAgentState) {
		s.IsComplete = true
	})
	in.Reply = lastAgentReply(in.State, in.TurnStart)

	next, _, err := Next(in.Phase, in.State)
	if err != nil {
		return nil, err
	}
	in.Phase = next
	return in, nil
}

func lastAgentReply(st *statex.TravelAgentState, from int) string {
	for i := len(st.Messages) - 1; i >= from && i >= 0; i-- {
		if m := st.Messages[i]; m.Role == statex.RoleAgent {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
