package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
)

const DispatchApology = "I'm sorry, something went wrong while handling your request. Please try again in a moment."

// DispatchSpecialist runs the specialist owning the current phase. Whatever
// the specialist does, the resulting state has exactly one new agent message.
func DispatchSpecialist(
	ctx context.Context,
	in *GraphState,
	models contractx.Registry,
	observer contractx.FailureObserver,
) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if observer == nil {
		observer = contractx.NoopFailureObserver{}
	}

	agentType, err := agentForPhase(in.Phase)
	if err != nil {
		return nil, err
	}
	specialist, err := pickSpecialist(agentType, models)
	if err != nil {
		return nil, err
	}

	before := in.State
	logger := log.Ctx(ctx).With().
		Str("session_id", in.SessionID).
		Str("agent", agentType.AgentName()).
		Logger()

	out, runErr := runSpecialist(ctx, specialist, before.Clone())
	if runErr == nil {
		runErr = checkSpecialistOutput(before, out)
	}
	if runErr != nil {
		logger.Warn().Err(runErr).Msg("specialist failed, replying with apology")
		observer.ObserveFailure(agentType, runErr)
		out = before.AddMessage(statex.RoleAgent, DispatchApology, agentType.AgentName(), in.Now)
	}

	if agentType != contractx.AgentTypeBooking {
		// only the booking agent owns booking fields and the options cache
		out.BookingInfo = before.BookingInfo.Clone()
		if flights := before.AgentResponse(statex.ResponseKeyLastFlights); flights != out.AgentResponse(statex.ResponseKeyLastFlights) {
			out = out.Update(out.UpdatedAt, func(s *statex.TravelAgentState) {
				s.AgentResponses[statex.ResponseKeyLastFlights] = flights
			})
		}
	}
	out.CurrentAgent = agentType.AgentName()

	next, _, err := Next(in.Phase, out)
	if err != nil {
		return nil, err
	}
	in.State = out
	in.Phase = next
	in.Hops++
	return in, nil
}

func runSpecialist(
	ctx context.Context,
	specialist contractx.Specialist,
	st *statex.TravelAgentState,
) (out *statex.TravelAgentState, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("specialist panicked: %v", r)
		}
	}()
	return specialist.Handle(ctx, st), nil
}

func checkSpecialistOutput(before, after *statex.TravelAgentState) error {
	if after == nil {
		return fmt.Errorf("%w: specialist returned nil state", contractx.ErrValidation)
	}
	if len(after.Messages) != len(before.Messages)+1 {
		return fmt.Errorf("%w: specialist appended %d messages, want 1",
			contractx.ErrValidation, len(after.Messages)-len(before.Messages))
	}
	for i := range before.Messages {
		if after.Messages[i] != before.Messages[i] {
			return fmt.Errorf("%w: specialist rewrote message %d", contractx.ErrValidation, i)
		}
	}
	if last := after.Messages[len(after.Messages)-1]; last.Role != statex.RoleAgent {
		return fmt.Errorf("%w: specialist message has role %q", contractx.ErrValidation, last.Role)
	}
	if after.SessionID != before.SessionID {
		return fmt.Errorf("%w: specialist changed session id", contractx.ErrValidation)
	}
	return nil
}

func agentForPhase(phase Phase) (contractx.AgentType, error) {
	if route, ok := phase.Route(); ok {
		if agentType, ok := route.AgentType(); ok {
			return agentType, nil
		}
	}
	return "", fmt.Errorf("%w: no specialist for phase %q", contractx.ErrValidation, phase)
}

func pickSpecialist(agentType contractx.AgentType, models contractx.Registry) (contractx.Specialist, error) {
	if models == nil {
		return nil, fmt.Errorf("%w: specialist registry is nil", contractx.ErrValidation)
	}
	var s contractx.Specialist
	switch agentType {
	case contractx.AgentTypeBooking:
		s = models.Booking()
	case contractx.AgentTypeComplaint:
		s = models.Complaint()
	case contractx.AgentTypeInformation:
		s = models.Information()
	}
	if s == nil {
		return nil, fmt.Errorf("%w: specialist %s is not registered", contractx.ErrValidation, agentType)
	}
	return s, nil
}
