package orchestratornode

import (
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
	"pgregory.net/rapid"
)

func stateWith(t testing.TB, query string, stage statex.BookingStage) *statex.TravelAgentState {
	t.Helper()

	st, err := statex.NewInitialState(query, "route-test", time.Now())
	if err != nil {
		t.Fatalf("NewInitialState() error = %v", err)
	}
	st.BookingInfo.BookingStage = stage
	return st
}

func TestRouteQueryExamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		stage statex.BookingStage
		want  Route
	}{
		{"stage lock showing options", "what's the weather", statex.StageShowingOptions, RouteBooking},
		{"stage lock collecting info", "tell me about Rome", statex.StageCollectingInfo, RouteBooking},
		{"booking keyword", "I want to BOOK a trip", statex.StageConfirmed, RouteBooking},
		{"complaint keyword", "I want to file a complaint about my refund", statex.StageConfirmed, RouteComplaint},
		{"information keyword", "Can you recommend somewhere warm?", statex.StageCancelled, RouteInformation},
		{"multi word keyword", "tell me more", statex.StageConfirmed, RouteInformation},
		{"booking beats complaint", "I need to cancel my flight booking", statex.StageConfirmed, RouteBooking},
		{"complaint beats information", "how do I get a refund", statex.StageConfirmed, RouteComplaint},
		{"no keyword", "thanks, bye", statex.StageConfirmed, RouteComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RouteQuery(stateWith(t, tt.query, tt.stage)); got != tt.want {
				t.Fatalf("RouteQuery(%q, %s) = %s, want %s", tt.query, tt.stage, got, tt.want)
			}
		})
	}
}

func TestRouteQueryNilState(t *testing.T) {
	t.Parallel()

	if got := RouteQuery(nil); got != RouteComplete {
		t.Fatalf("RouteQuery(nil) = %s, want complete", got)
	}
}

func TestRouteQueryStageLockProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		query := rapid.String().Draw(rt, "query")
		stage := rapid.SampledFrom([]statex.BookingStage{
			statex.StageCollectingInfo, statex.StageShowingOptions,
		}).Draw(rt, "stage")

		st := stateWith(t, query, stage)
		if got := RouteQuery(st); got != RouteBooking {
			rt.Fatalf("RouteQuery(%q, %s) = %s, want booking", query, stage, got)
		}
	})
}

// filler words share no substring with any routing keyword
var fillerWords = []string{"please", "my", "the", "today", "about", "trip", "now", "I", "want", "to", "a", "for"}

func TestRouteQuerySingleKeywordClassProperty(t *testing.T) {
	t.Parallel()

	classes := []struct {
		keywords []string
		want     Route
	}{
		{bookingKeywords, RouteBooking},
		{complaintKeywords, RouteComplaint},
		{informationKeywords, RouteInformation},
	}

	rapid.Check(t, func(rt *rapid.T) {
		class := rapid.IntRange(0, len(classes)-1).Draw(rt, "class")
		kw := rapid.SampledFrom(classes[class].keywords).Draw(rt, "keyword")
		before := rapid.SliceOfN(rapid.SampledFrom(fillerWords), 0, 4).Draw(rt, "before")
		after := rapid.SliceOfN(rapid.SampledFrom(fillerWords), 0, 4).Draw(rt, "after")
		upper := rapid.Bool().Draw(rt, "upper")

		if upper {
			kw = strings.ToUpper(kw)
		}
		words := append(append(append([]string{}, before...), kw), after...)
		query := strings.Join(words, " ")

		st := stateWith(t, query, statex.StageConfirmed)
		if got := RouteQuery(st); got != classes[class].want {
			rt.Fatalf("RouteQuery(%q) = %s, want %s", query, got, classes[class].want)
		}
	})
}

func TestRouteQueryFillerOnlyCompletes(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		words := rapid.SliceOfN(rapid.SampledFrom(fillerWords), 0, 8).Draw(rt, "words")
		st := stateWith(t, strings.Join(words, " "), statex.StageCancelled)
		if got := RouteQuery(st); got != RouteComplete {
			rt.Fatalf("RouteQuery(%q) = %s, want complete", st.CurrentQuery, got)
		}
	})
}

func TestNextTransitions(t *testing.T) {
	t.Parallel()

	booking := stateWith(t, "book a flight", statex.StageConfirmed)
	idle := stateWith(t, "thanks", statex.StageConfirmed)

	phase, route, err := Next(PhaseRouting, booking)
	if err != nil || phase != PhaseDispatchedBooking || route != RouteBooking {
		t.Fatalf("Next(routing, booking) = %s, %s, %v", phase, route, err)
	}

	phase, route, err = Next(PhaseRouting, idle)
	if err != nil || phase != PhaseFinalizing || route != RouteComplete {
		t.Fatalf("Next(routing, idle) = %s, %s, %v", phase, route, err)
	}

	for _, p := range []Phase{PhaseDispatchedBooking, PhaseDispatchedComplaint, PhaseDispatchedInformation} {
		phase, _, err = Next(p, booking)
		if err != nil || phase != PhaseFinalizing {
			t.Fatalf("Next(%s) = %s, %v; want finalizing", p, phase, err)
		}
	}

	phase, _, err = Next(PhaseFinalizing, booking)
	if err != nil || phase != PhaseDone {
		t.Fatalf("Next(finalizing) = %s, %v; want done", phase, err)
	}

	if _, _, err = Next(PhaseDone, booking); !errors.Is(err, ErrMachineHalted) {
		t.Fatalf("Next(done) error = %v, want ErrMachineHalted", err)
	}
	if _, _, err = Next(Phase("bogus"), booking); err == nil {
		t.Fatal("Next(bogus) expected error")
	}
}

func TestRouteAgentTypeAndPhaseRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		route Route
		agent contractx.AgentType
		phase Phase
	}{
		{RouteBooking, contractx.AgentTypeBooking, PhaseDispatchedBooking},
		{RouteComplaint, contractx.AgentTypeComplaint, PhaseDispatchedComplaint},
		{RouteInformation, contractx.AgentTypeInformation, PhaseDispatchedInformation},
	}
	for _, tc := range cases {
		agent, ok := tc.route.AgentType()
		if !ok || agent != tc.agent {
			t.Fatalf("%s.AgentType() = %q, %v; want %q", tc.route, agent, ok, tc.agent)
		}
		phase, ok := DispatchedPhase(tc.route)
		if !ok || phase != tc.phase {
			t.Fatalf("DispatchedPhase(%s) = %q, %v; want %q", tc.route, phase, ok, tc.phase)
		}
		back, ok := phase.Route()
		if !ok || back != tc.route {
			t.Fatalf("%s.Route() = %q, %v; want %q", phase, back, ok, tc.route)
		}
		got, err := agentForPhase(phase)
		if err != nil || got != tc.agent {
			t.Fatalf("agentForPhase(%s) = %q, %v; want %q", phase, got, err, tc.agent)
		}
	}

	if _, ok := RouteComplete.AgentType(); ok {
		t.Fatal("RouteComplete.AgentType() reported an agent")
	}
	if _, ok := DispatchedPhase(RouteComplete); ok {
		t.Fatal("DispatchedPhase(complete) reported a phase")
	}
	for _, p := range []Phase{PhaseRouting, PhaseFinalizing, PhaseDone, Phase("dispatched:nobody")} {
		if _, err := agentForPhase(p); !errors.Is(err, contractx.ErrValidation) {
			t.Fatalf("agentForPhase(%s) error = %v, want ErrValidation", p, err)
		}
	}
}

func TestAfterSpecialistAlwaysCompletes(t *testing.T) {
	t.Parallel()

	for _, stage := range []statex.BookingStage{statex.StageCollectingInfo, statex.StageShowingOptions, statex.StageConfirmed} {
		if got := AfterSpecialist(stateWith(t, "book", stage)); got != Complete {
			t.Fatalf("AfterSpecialist(%s) = %s, want complete", stage, got)
		}
	}
}

func TestRouteRequestRecordsQueryType(t *testing.T) {
	t.Parallel()

	in := &GraphState{
		SessionID: "route-test",
		Now:       time.Now(),
		Phase:     PhaseRouting,
		State:     stateWith(t, "any refund?", statex.StageConfirmed),
	}
	out, err := RouteRequest(in)
	if err != nil {
		t.Fatalf("RouteRequest() error = %v", err)
	}
	if out.Route != RouteComplaint || out.Phase != PhaseDispatchedComplaint {
		t.Fatalf("route = %s phase = %s", out.Route, out.Phase)
	}
	if out.State.QueryType != "complaint" {
		t.Fatalf("QueryType = %q, want complaint", out.State.QueryType)
	}
}
