package specialist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	promptx "github.com/tanpawarit/Chative-Travel-Concierge/agent/prompt"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
	toolx "github.com/tanpawarit/Chative-Travel-Concierge/agent/tool"
)

type fakeReply struct {
	content string
	err     error
}

// fakeChatModel replays scripted replies in order and records the user
// message of every call.
type fakeChatModel struct {
	mu      sync.Mutex
	replies []fakeReply
	inputs  []string
}

func newFakeModel(replies ...fakeReply) *fakeChatModel {
	return &fakeChatModel{replies: replies}
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(input) > 0 {
		f.inputs = append(f.inputs, input[len(input)-1].Content)
	}
	if len(f.replies) == 0 {
		return nil, errors.New("no fake reply left")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return schema.AssistantMessage(r.content, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeChatModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type staticRetriever struct {
	docs []contractx.Document
	err  error
}

func (s staticRetriever) Retrieve(context.Context, string, int) ([]contractx.Document, error) {
	return s.docs, s.err
}

type countingObserver struct {
	mu    sync.Mutex
	count map[contractx.AgentType]int
}

func (c *countingObserver) ObserveFailure(agent contractx.AgentType, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = map[contractx.AgentType]int{}
	}
	c.count[agent]++
}

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithReferenceGenerator(func(prefix string) string { return prefix + "-TEST0001" }),
		WithCallTimeout(time.Second),
	}, extra...)
}

func userTurn(t *testing.T, st *statex.TravelAgentState, query string) *statex.TravelAgentState {
	t.Helper()

	if st == nil {
		var err error
		st, err = statex.NewInitialState(query, "s-test", fixedNow)
		if err != nil {
			t.Fatalf("NewInitialState() error = %v", err)
		}
	}
	st = st.Update(fixedNow, func(s *statex.TravelAgentState) { s.CurrentQuery = query })
	return st.AddMessage(statex.RoleUser, query, "", fixedNow)
}

func assertOneAgentMessage(t *testing.T, before, after *statex.TravelAgentState, agent string) statex.ConversationMessage {
	t.Helper()

	if after == nil {
		t.Fatal("specialist returned nil state")
	}
	if got, want := len(after.Messages), len(before.Messages)+1; got != want {
		t.Fatalf("messages = %d, want %d", got, want)
	}
	last, _ := after.LastMessage()
	if last.Role != statex.RoleAgent || last.AgentName != agent {
		t.Fatalf("last message = %+v, want agent message from %s", last, agent)
	}
	return last
}

func newBooking(t *testing.T, model *fakeChatModel, extra ...Option) *BookingAgent {
	t.Helper()

	a, err := NewBookingAgent(context.Background(), model, promptx.LoadPromptSet().BookingExtract, testOptions(extra...)...)
	if err != nil {
		t.Fatalf("NewBookingAgent() error = %v", err)
	}
	return a
}

func TestBookingAsksForMissingSlots(t *testing.T) {
	t.Parallel()

	model := newFakeModel(fakeReply{content: `{"intent":"book","destination":"Tokyo"}`})
	agent := newBooking(t, model)

	in := userTurn(t, nil, "I want to book a flight to Tokyo")
	out := agent.Handle(context.Background(), in)

	last := assertOneAgentMessage(t, in, out, "booking_agent")
	if !strings.Contains(last.Content, "flying from") || !strings.Contains(last.Content, "departure date") {
		t.Fatalf("reply = %q, want questions for origin and date", last.Content)
	}
	if strings.Contains(last.Content, "flying to") {
		t.Fatalf("reply = %q, destination is already known", last.Content)
	}
	if out.BookingInfo.Destination != "Tokyo" || out.BookingInfo.BookingStage != statex.StageCollectingInfo {
		t.Fatalf("booking = %+v", out.BookingInfo)
	}
	if in.BookingInfo.Destination != "" {
		t.Fatal("input state was modified")
	}
}

func TestBookingSearchThenSelect(t *testing.T) {
	t.Parallel()

	model := newFakeModel(
		fakeReply{content: "```json\n" + `{"intent":"book","origin":"Bangkok","destination":"Tokyo","departure_date":"2026-06-01","travelers":"2"}` + "\n```"},
		fakeReply{content: `{"intent":"select","selected_option":2}`},
	)
	agent := newBooking(t, model)

	first := userTurn(t, nil, "Bangkok to Tokyo on 2026-06-01 for two people")
	shown := agent.Handle(context.Background(), first)
	last := assertOneAgentMessage(t, first, shown, "booking_agent")

	if shown.BookingInfo.BookingStage != statex.StageShowingOptions {
		t.Fatalf("stage = %s, want showing_options", shown.BookingInfo.BookingStage)
	}
	if shown.BookingInfo.Travelers != 2 {
		t.Fatalf("travelers = %d, want 2", shown.BookingInfo.Travelers)
	}
	options, err := toolx.DecodeOptions(shown.AgentResponse(statex.ResponseKeyLastFlights))
	if err != nil || len(options) != 3 {
		t.Fatalf("cached options = %d, err = %v", len(options), err)
	}
	if !strings.Contains(last.Content, options[1].FlightNumber) {
		t.Fatalf("reply %q does not list option 2", last.Content)
	}

	second := userTurn(t, shown, "option 2 please")
	booked := agent.Handle(context.Background(), second)
	last = assertOneAgentMessage(t, second, booked, "booking_agent")

	b := booked.BookingInfo
	if b.BookingStage != statex.StageConfirmed || b.BookingStatus != statex.StatusConfirmed {
		t.Fatalf("stage/status = %s/%s", b.BookingStage, b.BookingStatus)
	}
	if b.BookingID != "BK-TEST0001" || b.FlightNumber != options[1].FlightNumber {
		t.Fatalf("booking = %+v", b)
	}
	if b.SelectedFlightID == nil || *b.SelectedFlightID != 2 {
		t.Fatalf("selected = %v", b.SelectedFlightID)
	}
	if b.Price == nil || *b.Price < options[1].Price*2-0.01 || *b.Price > options[1].Price*2+0.01 {
		t.Fatalf("price = %v, want %.2f", b.Price, options[1].Price*2)
	}
	if !strings.Contains(last.Content, "BK-TEST0001") {
		t.Fatalf("reply = %q, want booking reference", last.Content)
	}
}

func TestBookingInvalidSelectionRepeatsOptions(t *testing.T) {
	t.Parallel()

	opts, err := toolx.NewCatalogSearcher().Search(context.Background(), toolx.SearchRequest{
		Origin: "Paris", Destination: "Rome", DepartureDate: "2026-07-01",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	encoded, _ := toolx.EncodeOptions(opts)

	st := userTurn(t, nil, "number 9")
	st = st.Update(fixedNow, func(s *statex.TravelAgentState) {
		s.BookingInfo.Origin = "Paris"
		s.BookingInfo.Destination = "Rome"
		s.BookingInfo.DepartureDate = "2026-07-01"
		s.BookingInfo.BookingStage = statex.StageShowingOptions
		s.AgentResponses[statex.ResponseKeyLastFlights] = encoded
	})

	agent := newBooking(t, newFakeModel(fakeReply{content: `{"intent":"select","selected_option":9}`}))
	out := agent.Handle(context.Background(), st)
	last := assertOneAgentMessage(t, st, out, "booking_agent")

	if !strings.Contains(last.Content, "between 1 and 3") {
		t.Fatalf("reply = %q", last.Content)
	}
	if out.BookingInfo.BookingStage != statex.StageShowingOptions {
		t.Fatalf("stage = %s", out.BookingInfo.BookingStage)
	}
}

func TestBookingCancel(t *testing.T) {
	t.Parallel()

	st := userTurn(t, nil, "cancel my booking")
	st = st.Update(fixedNow, func(s *statex.TravelAgentState) {
		s.BookingInfo.BookingID = "BK-OLD"
		s.BookingInfo.BookingStage = statex.StageConfirmed
		s.BookingInfo.BookingStatus = statex.StatusConfirmed
	})

	agent := newBooking(t, newFakeModel(fakeReply{content: `{"intent":"cancel"}`}))
	out := agent.Handle(context.Background(), st)
	last := assertOneAgentMessage(t, st, out, "booking_agent")

	if out.BookingInfo.BookingStage != statex.StageCancelled || out.BookingInfo.BookingStatus != statex.StatusCancelled {
		t.Fatalf("booking = %+v", out.BookingInfo)
	}
	if !strings.Contains(last.Content, "BK-OLD") {
		t.Fatalf("reply = %q", last.Content)
	}
}

func TestBookingAfterConfirmationStartsOver(t *testing.T) {
	t.Parallel()

	st := userTurn(t, nil, "book another flight to Seoul")
	st = st.Update(fixedNow, func(s *statex.TravelAgentState) {
		s.BookingInfo.BookingID = "BK-OLD"
		s.BookingInfo.Origin = "Bangkok"
		s.BookingInfo.BookingStage = statex.StageConfirmed
		s.BookingInfo.BookingStatus = statex.StatusConfirmed
	})

	agent := newBooking(t, newFakeModel(fakeReply{content: `{"intent":"book","destination":"Seoul"}`}))
	out := agent.Handle(context.Background(), st)
	assertOneAgentMessage(t, st, out, "booking_agent")

	b := out.BookingInfo
	if b.BookingID != "" || b.Origin != "" || b.Destination != "Seoul" {
		t.Fatalf("booking = %+v, want a fresh booking", b)
	}
	if b.BookingStage != statex.StageCollectingInfo || b.BookingStatus != statex.StatusPending {
		t.Fatalf("stage/status = %s/%s", b.BookingStage, b.BookingStatus)
	}
}

func TestBookingModelFailureBecomesApology(t *testing.T) {
	t.Parallel()

	observer := &countingObserver{}
	tests := []struct {
		name  string
		reply fakeReply
	}{
		{"model error", fakeReply{err: errors.New("upstream 502")}},
		{"not json", fakeReply{content: "Sure! Where would you like to go?"}},
		{"empty", fakeReply{content: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := newBooking(t, newFakeModel(tt.reply), WithFailureObserver(observer))
			in := userTurn(t, nil, "book a flight")
			out := agent.Handle(context.Background(), in)

			last := assertOneAgentMessage(t, in, out, "booking_agent")
			if last.Content != bookingApology {
				t.Fatalf("reply = %q, want apology", last.Content)
			}
			if out.BookingInfo != in.BookingInfo {
				t.Fatalf("booking changed on failure: %+v", out.BookingInfo)
			}
		})
	}
	if observer.count[contractx.AgentTypeBooking] != len(tests) {
		t.Fatalf("observed failures = %d, want %d", observer.count[contractx.AgentTypeBooking], len(tests))
	}
}

func newComplaint(t *testing.T, model *fakeChatModel, extra ...Option) *ComplaintAgent {
	t.Helper()

	p := promptx.LoadPromptSet()
	a, err := NewComplaintAgent(context.Background(), model, p.ComplaintAnalyze, p.ComplaintRespond, testOptions(extra...)...)
	if err != nil {
		t.Fatalf("NewComplaintAgent() error = %v", err)
	}
	return a
}

func TestComplaintHighSeverityEscalates(t *testing.T) {
	t.Parallel()

	model := newFakeModel(
		fakeReply{content: `{"category":"baggage","severity":"high","summary":"Bag lost with medication","booking_reference":"BK-1234"}`},
		fakeReply{content: "I'm very sorry about your lost bag. Reference CMP-TEST0001."},
	)
	agent := newComplaint(t, model)

	in := userTurn(t, nil, "I have a complaint, my bag with my medication is lost")
	out := agent.Handle(context.Background(), in)
	last := assertOneAgentMessage(t, in, out, "complaint_agent")

	if strings.Count(last.Content, "CMP-TEST0001") != 1 {
		t.Fatalf("reply = %q, want the reference exactly once", last.Content)
	}
	if !strings.Contains(last.Content, escalationNote) {
		t.Fatalf("reply = %q, want escalation note", last.Content)
	}
	if out.AgentResponse(statex.ResponseKeyLastComplaint) != "CMP-TEST0001" {
		t.Fatalf("agent responses = %v", out.AgentResponses)
	}
	if model.calls() != 2 || !strings.Contains(model.inputs[1], "BK-1234") {
		t.Fatalf("respond input = %v", model.inputs)
	}
}

func TestComplaintDraftFailureStillAcknowledges(t *testing.T) {
	t.Parallel()

	observer := &countingObserver{}
	model := newFakeModel(
		fakeReply{content: `{"category":"nonsense","severity":"???","summary":""}`},
		fakeReply{err: context.DeadlineExceeded},
	)
	agent := newComplaint(t, model, WithFailureObserver(observer))

	in := userTurn(t, nil, "the hotel refund never arrived")
	out := agent.Handle(context.Background(), in)
	last := assertOneAgentMessage(t, in, out, "complaint_agent")

	if !strings.Contains(last.Content, "CMP-TEST0001") {
		t.Fatalf("reply = %q, want reference", last.Content)
	}
	if strings.Contains(last.Content, escalationNote) {
		t.Fatal("medium severity must not escalate")
	}
	if observer.count[contractx.AgentTypeComplaint] != 1 {
		t.Fatalf("observed = %v", observer.count)
	}
}

func TestComplaintAnalysisFailureBecomesApology(t *testing.T) {
	t.Parallel()

	agent := newComplaint(t, newFakeModel(fakeReply{err: errors.New("boom")}))
	in := userTurn(t, nil, "terrible service")
	out := agent.Handle(context.Background(), in)

	if last := assertOneAgentMessage(t, in, out, "complaint_agent"); last.Content != complaintApology {
		t.Fatalf("reply = %q", last.Content)
	}
}

func newInformation(t *testing.T, model *fakeChatModel, extra ...Option) *InformationAgent {
	t.Helper()

	p := promptx.LoadPromptSet()
	a, err := NewInformationAgent(context.Background(), model, p.InformationAnalyze, p.InformationRespond, testOptions(extra...)...)
	if err != nil {
		t.Fatalf("NewInformationAgent() error = %v", err)
	}
	return a
}

func TestInformationRequirementsStaticFallback(t *testing.T) {
	t.Parallel()

	model := newFakeModel(fakeReply{content: `{"query_type":"requirements","destination":"Japan"}`})
	agent := newInformation(t, model)

	in := userTurn(t, nil, "what documents do I need for Japan?")
	out := agent.Handle(context.Background(), in)
	last := assertOneAgentMessage(t, in, out, "information_agent")

	want := "Information Agent: Here's requirements information for Japan:"
	if !strings.HasPrefix(last.Content, want) || !strings.Contains(last.Content, "**Visa Requirements:**") {
		t.Fatalf("reply = %q", last.Content)
	}
	if model.calls() != 1 {
		t.Fatalf("model calls = %d, static fallback needs no second call", model.calls())
	}
	if out.QueryType != string(QueryRequirements) {
		t.Fatalf("QueryType = %q", out.QueryType)
	}
}

func TestInformationRetrievalFailureUsesFallback(t *testing.T) {
	t.Parallel()

	model := newFakeModel(fakeReply{content: `{"query_type":"weather_seasonal","destination":"Iceland"}`})
	agent := newInformation(t, model, WithRetriever(staticRetriever{err: errors.New("index down")}))

	in := userTurn(t, nil, "how is the weather in Iceland in March?")
	out := agent.Handle(context.Background(), in)
	last := assertOneAgentMessage(t, in, out, "information_agent")

	if !strings.Contains(last.Content, "Here's weather information for Iceland") {
		t.Fatalf("reply = %q", last.Content)
	}
}

func TestInformationDestinationUsesRetrievedContext(t *testing.T) {
	t.Parallel()

	model := newFakeModel(
		fakeReply{content: `{"query_type":"destination_info","destination":"Kyoto","interests":"temples, food"}`},
		fakeReply{content: "Kyoto has over a thousand temples."},
	)
	retriever := staticRetriever{docs: []contractx.Document{
		{ID: "a", Content: "Fushimi Inari is best before 8am."},
		{ID: "b", Content: "Kyoto has 1,600 temples."},
	}}
	agent := newInformation(t, model, WithRetriever(retriever))

	in := userTurn(t, nil, "tell me about Kyoto")
	out := agent.Handle(context.Background(), in)
	last := assertOneAgentMessage(t, in, out, "information_agent")

	if last.Content != "Information Agent: Here's what I know about Kyoto:\n\nKyoto has over a thousand temples." {
		t.Fatalf("reply = %q", last.Content)
	}
	prompt := model.inputs[1]
	if !strings.Contains(prompt, "Fushimi Inari is best before 8am."+contextSeparator+"Kyoto has 1,600 temples.") {
		t.Fatalf("respond input missing joined context: %q", prompt)
	}
	if !strings.Contains(prompt, "Interests: temples, food") {
		t.Fatalf("respond input = %q", prompt)
	}
}

func TestInformationUnknownTypeFallsBackToGeneral(t *testing.T) {
	t.Parallel()

	model := newFakeModel(fakeReply{content: `{"query_type":"astrology"}`})
	agent := newInformation(t, model)

	in := userTurn(t, nil, "how should I plan?")
	out := agent.Handle(context.Background(), in)
	last := assertOneAgentMessage(t, in, out, "information_agent")

	if last.Content != informationPrefix+generalFallback {
		t.Fatalf("reply = %q", last.Content)
	}
	if out.QueryType != string(QueryGeneralTravel) {
		t.Fatalf("QueryType = %q", out.QueryType)
	}
}

func TestInformationFailureBecomesApology(t *testing.T) {
	t.Parallel()

	model := newFakeModel(
		fakeReply{content: `{"query_type":"travel_tips","destination":"Lima"}`},
		fakeReply{err: errors.New("rate limited")},
	)
	agent := newInformation(t, model)

	in := userTurn(t, nil, "tips for Lima")
	out := agent.Handle(context.Background(), in)

	if last := assertOneAgentMessage(t, in, out, "information_agent"); last.Content != informationApology {
		t.Fatalf("reply = %q", last.Content)
	}
}

func TestTravelerProfile(t *testing.T) {
	t.Parallel()

	msg := func(s string) statex.ConversationMessage { return statex.ConversationMessage{Content: s} }
	tests := []struct {
		name   string
		msgs   []statex.ConversationMessage
		budget string
		group  string
	}{
		{"defaults", nil, "moderate", "general"},
		{"luxury family", []statex.ConversationMessage{msg("a luxury trip with the kids")}, "luxury", "family"},
		{"later wins", []statex.ConversationMessage{msg("luxury please"), msg("actually something cheap, I travel solo")}, "budget", "solo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			budget, group := travelerProfile(tt.msgs)
			if budget != tt.budget || group != tt.group {
				t.Fatalf("profile = %s/%s, want %s/%s", budget, group, tt.budget, tt.group)
			}
		})
	}
}

func TestNewRegistryRequiresEveryModel(t *testing.T) {
	t.Parallel()

	models := map[contractx.AgentType]einomodel.BaseChatModel{
		contractx.AgentTypeBooking: newFakeModel(),
	}
	if _, err := newRegistry(context.Background(), models, promptx.LoadPromptSet()); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}

	models[contractx.AgentTypeComplaint] = newFakeModel()
	models[contractx.AgentTypeInformation] = newFakeModel()
	reg, err := newRegistry(context.Background(), models, promptx.LoadPromptSet())
	if err != nil {
		t.Fatalf("newRegistry() error = %v", err)
	}
	if reg.Booking() == nil || reg.Complaint() == nil || reg.Information() == nil {
		t.Fatal("registry has nil specialists")
	}
}
