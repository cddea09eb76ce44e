package specialist

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
)

const (
	complaintApology = "I'm sorry you've had a bad experience, and I'm having trouble " +
		"recording your complaint right now. Please try again in a moment."

	escalationNote = "Because of the seriousness of this issue, it has been escalated to a " +
		"senior customer care specialist who will contact you within 24 hours."
)

var complaintCategories = map[string]bool{
	"flight_delay":  true,
	"baggage":       true,
	"refund":        true,
	"service":       true,
	"booking_error": true,
	"other":         true,
}

type complaintAnalysis struct {
	Category         string `json:"category"`
	Severity         string `json:"severity"`
	Summary          string `json:"summary"`
	BookingReference string `json:"booking_reference"`
}

func (c *complaintAnalysis) normalize(query string) {
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	if !complaintCategories[c.Category] {
		c.Category = "other"
	}
	switch s := strings.ToLower(strings.TrimSpace(c.Severity)); s {
	case "low", "medium", "high":
		c.Severity = s
	default:
		c.Severity = "medium"
	}
	c.Summary = orDefault(c.Summary, query)
	c.BookingReference = strings.TrimSpace(c.BookingReference)
}

// ComplaintAgent triages a complaint, then drafts an empathetic reply that
// quotes a fresh complaint reference.
type ComplaintAgent struct {
	base
	analyze compose.Runnable[map[string]any, complaintAnalysis]
	respond compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.Specialist = (*ComplaintAgent)(nil)

func NewComplaintAgent(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	analyzePrompt string,
	respondPrompt string,
	opts ...Option,
) (*ComplaintAgent, error) {
	analyze, err := compileStructuredLLMGraph[complaintAnalysis](ctx, chatModel, analyzePrompt, "complaint.analyze_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile complaint analyze graph: %v", contractx.ErrModelInvoke, err)
	}
	respond, err := compileTextGraph(ctx, chatModel, respondPrompt, "complaint.respond_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile complaint respond graph: %v", contractx.ErrModelInvoke, err)
	}
	return &ComplaintAgent{
		base:    base{agentType: contractx.AgentTypeComplaint, opts: buildOptions(opts)},
		analyze: analyze,
		respond: respond,
	}, nil
}

func (a *ComplaintAgent) Handle(ctx context.Context, st *statex.TravelAgentState) *statex.TravelAgentState {
	analysis, err := invokeStructured(ctx, a.base, a.analyze, "Customer message: "+st.CurrentQuery)
	if err != nil {
		return a.fail(ctx, st, err, complaintApology)
	}
	analysis.normalize(st.CurrentQuery)

	ref := a.opts.newRef("CMP")
	bookingRef := orDefault(analysis.BookingReference, st.BookingInfo.BookingID)

	var in strings.Builder
	fmt.Fprintf(&in, "Complaint reference: %s\n", ref)
	fmt.Fprintf(&in, "Category: %s\n", analysis.Category)
	fmt.Fprintf(&in, "Severity: %s\n", analysis.Severity)
	fmt.Fprintf(&in, "Summary: %s\n", analysis.Summary)
	if bookingRef != "" {
		fmt.Fprintf(&in, "Booking reference: %s\n", bookingRef)
	}
	fmt.Fprintf(&in, "Customer message: %s", st.CurrentQuery)

	reply, err := invokeText(ctx, a.base, a.respond, in.String())
	if err != nil {
		// The complaint is triaged already; acknowledge it without the draft.
		log.Ctx(ctx).Warn().Err(err).Str("complaint_ref", ref).Msg("complaint reply draft failed")
		a.opts.failures.ObserveFailure(a.agentType, err)
		reply = fmt.Sprintf("I'm sorry about this experience. I've recorded your complaint (%s) and our "+
			"customer care team will review it and get back to you.", analysis.Summary)
	}
	if !strings.Contains(reply, ref) {
		reply += "\n\nYour complaint reference is " + ref + "."
	}
	if analysis.Severity == "high" {
		reply += "\n\n" + escalationNote
	}

	log.Ctx(ctx).Info().
		Str("complaint_ref", ref).
		Str("category", analysis.Category).
		Str("severity", analysis.Severity).
		Msg("complaint recorded")

	st = st.Update(a.opts.now(), func(s *statex.TravelAgentState) {
		s.AgentResponses[statex.ResponseKeyLastComplaint] = ref
	})
	return a.reply(st, reply)
}
