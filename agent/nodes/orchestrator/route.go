package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
)

type Route string

const (
	RouteBooking     Route = "booking"
	RouteComplaint   Route = "complaint"
	RouteInformation Route = "information"
	RouteComplete    Route = "complete"
)

// AgentType maps a specialist route to its agent. RouteComplete has none.
func (r Route) AgentType() (contractx.AgentType, bool) {
	switch r {
	case RouteBooking:
		return contractx.AgentTypeBooking, true
	case RouteComplaint:
		return contractx.AgentTypeComplaint, true
	case RouteInformation:
		return contractx.AgentTypeInformation, true
	default:
		return "", false
	}
}

// Evaluated in this order; a query matching several lists goes to the first.
var (
	bookingKeywords     = []string{"book", "reserve", "flight", "hotel", "ticket", "fly"}
	complaintKeywords   = []string{"complaint", "problem", "issue", "cancel", "refund"}
	informationKeywords = []string{"information", "recommend", "suggest", "where", "how", "tell me"}
)

// RouteQuery picks the specialist for the current query. An in-progress
// booking keeps control regardless of the query text.
func RouteQuery(st *statex.TravelAgentState) Route {
	if st == nil {
		return RouteComplete
	}
	if st.BookingInfo.BookingStage.InProgress() {
		return RouteBooking
	}

	query := strings.ToLower(st.CurrentQuery)
	switch {
	case containsAny(query, bookingKeywords):
		return RouteBooking
	case containsAny(query, complaintKeywords):
		return RouteComplaint
	case containsAny(query, informationKeywords):
		return RouteInformation
	default:
		return RouteComplete
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

type Continuation string

const (
	ContinueRouting Continuation = "continue"
	Complete        Continuation = "complete"
)

// AfterSpecialist decides whether another specialist may run in the same
// turn. Dispatch is single-hop today, so it always completes.
func AfterSpecialist(*statex.TravelAgentState) Continuation {
	return Complete
}

type Phase string

const (
	PhaseRouting               Phase = "routing"
	PhaseDispatchedBooking     Phase = "dispatched:booking"
	PhaseDispatchedComplaint   Phase = "dispatched:complaint"
	PhaseDispatchedInformation Phase = "dispatched:information"
	PhaseFinalizing            Phase = "finalizing"
	PhaseDone                  Phase = "done"
)

func DispatchedPhase(r Route) (Phase, bool) {
	agent, ok := r.AgentType()
	if !ok {
		return "", false
	}
	return Phase("dispatched:" + string(agent)), true
}

// Route is the inverse of DispatchedPhase; non-dispatched phases have none.
func (p Phase) Route() (Route, bool) {
	if !p.Dispatched() {
		return "", false
	}
	return Route(strings.TrimPrefix(string(p), "dispatched:")), true
}

func (p Phase) Dispatched() bool {
	switch p {
	case PhaseDispatchedBooking, PhaseDispatchedComplaint, PhaseDispatchedInformation:
		return true
	default:
		return false
	}
}

// Next is the transition function of the turn machine.
//
//	routing      -> dispatched(route) | finalizing (route == complete)
//	dispatched   -> routing (continue) | finalizing (complete)
//	finalizing   -> done
func Next(phase Phase, st *statex.TravelAgentState) (Phase, Route, error) {
	switch {
	case phase == PhaseRouting:
		route := RouteQuery(st)
		if next, ok := DispatchedPhase(route); ok {
			return next, route, nil
		}
		return PhaseFinalizing, RouteComplete, nil
	case phase.Dispatched():
		if AfterSpecialist(st) == ContinueRouting {
			return PhaseRouting, "", nil
		}
		return PhaseFinalizing, "", nil
	case phase == PhaseFinalizing:
		return PhaseDone, "", nil
	case phase == PhaseDone:
		return PhaseDone, "", ErrMachineHalted
	default:
		return "", "", fmt.Errorf("%w: unknown phase %q", contractx.ErrValidation, phase)
	}
}

// RouteRequest runs the routing phase and records the decision on the state.
func RouteRequest(in *GraphState) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Phase != PhaseRouting {
		return nil, fmt.Errorf("%w: route called in phase %q", contractx.ErrValidation, in.Phase)
	}

	next, route, err := Next(in.Phase, in.State)
	if err != nil {
		return nil, err
	}
	in.Route = route
	in.Phase = next
	in.State = in.State.Update(in.Now, func(s *statex.TravelAgentState) {
		s.QueryType = string(route)
	})
	return in, nil
}
