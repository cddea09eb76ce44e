package specialist

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
	toolx "github.com/tanpawarit/Chative-Travel-Concierge/agent/tool"
)

const bookingApology = "I'm sorry, I ran into a problem while working on your booking. " +
	"Could you please repeat your travel details?"

const dateLayout = "2006-01-02"

type bookingIntent string

const (
	intentBook   bookingIntent = "book"
	intentSelect bookingIntent = "select"
	intentCancel bookingIntent = "cancel"
	intentOther  bookingIntent = "other"
)

type bookingExtraction struct {
	Intent         string  `json:"intent"`
	Origin         string  `json:"origin"`
	Destination    string  `json:"destination"`
	DepartureDate  string  `json:"departure_date"`
	ReturnDate     string  `json:"return_date"`
	Travelers      flexInt `json:"travelers"`
	CabinClass     string  `json:"cabin_class"`
	SelectedOption flexInt `json:"selected_option"`
}

func (e bookingExtraction) intent() bookingIntent {
	switch bookingIntent(strings.ToLower(strings.TrimSpace(e.Intent))) {
	case intentBook:
		return intentBook
	case intentSelect:
		return intentSelect
	case intentCancel:
		return intentCancel
	default:
		if e.SelectedOption > 0 {
			return intentSelect
		}
		return intentOther
	}
}

// BookingAgent runs the slot filling -> search -> selection flow. It makes a
// single model call per turn; search and confirmation are deterministic.
type BookingAgent struct {
	base
	extract compose.Runnable[map[string]any, bookingExtraction]
}

var _ contractx.Specialist = (*BookingAgent)(nil)

func NewBookingAgent(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, opts ...Option) (*BookingAgent, error) {
	extract, err := compileStructuredLLMGraph[bookingExtraction](ctx, chatModel, systemPrompt, "booking.extract_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile booking graph: %v", contractx.ErrModelInvoke, err)
	}
	return &BookingAgent{
		base:    base{agentType: contractx.AgentTypeBooking, opts: buildOptions(opts)},
		extract: extract,
	}, nil
}

func (a *BookingAgent) Handle(ctx context.Context, st *statex.TravelAgentState) *statex.TravelAgentState {
	options, err := toolx.DecodeOptions(st.AgentResponse(statex.ResponseKeyLastFlights))
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("discarding unreadable flight options")
		options = nil
	}

	out, err := invokeStructured(ctx, a.base, a.extract, bookingInput(st, options, a.opts.now()))
	if err != nil {
		return a.fail(ctx, st, err, bookingApology)
	}

	booking := st.BookingInfo.Clone()
	intent := out.intent()

	if intent == intentCancel {
		return a.cancel(st, booking)
	}

	if !booking.BookingStage.InProgress() {
		if intent != intentBook {
			return a.reply(st, bookingSummary(booking))
		}
		booking = statex.NewBooking()
		options = nil
	}

	changed := mergeSlots(&booking, out)

	if booking.BookingStage == statex.StageShowingOptions && len(options) > 0 && !changed {
		if intent == intentSelect || out.SelectedOption > 0 {
			return a.selectOption(st, booking, options, int(out.SelectedOption))
		}
		return a.reply(st, "Which option would you like? Reply with its number.\n\n"+formatOptions(options, booking.Travelers))
	}

	return a.searchOrAsk(ctx, st, booking)
}

func (a *BookingAgent) cancel(st *statex.TravelAgentState, booking statex.TravelBooking) *statex.TravelAgentState {
	msg := "I've cancelled your booking request. Let me know if you'd like to plan another trip."
	if booking.BookingStatus == statex.StatusConfirmed && booking.BookingID != "" {
		msg = fmt.Sprintf("Your booking %s has been cancelled. Any refund will be processed to the original payment method.", booking.BookingID)
	}
	if booking.BookingStatus == statex.StatusCancelled {
		msg = "This booking is already cancelled."
	}

	booking.BookingStage = statex.StageCancelled
	booking.BookingStatus = statex.StatusCancelled
	st = st.Update(a.opts.now(), func(s *statex.TravelAgentState) {
		s.BookingInfo = booking
		s.AgentResponses[statex.ResponseKeyLastFlights] = "[]"
	})
	return a.reply(st, msg)
}

func (a *BookingAgent) searchOrAsk(ctx context.Context, st *statex.TravelAgentState, booking statex.TravelBooking) *statex.TravelAgentState {
	if missing := missingSlots(booking); len(missing) > 0 {
		booking.BookingStage = statex.StageCollectingInfo
		st = st.Update(a.opts.now(), func(s *statex.TravelAgentState) {
			s.BookingInfo = booking
		})
		return a.reply(st, askForSlots(missing))
	}

	callCtx, cancel := a.callContext(ctx)
	defer cancel()

	found, err := a.opts.searcher.Search(callCtx, toolx.SearchRequest{
		Origin:        booking.Origin,
		Destination:   booking.Destination,
		DepartureDate: booking.DepartureDate,
		CabinClass:    booking.CabinClass,
	})
	switch {
	case errors.Is(err, toolx.ErrInvalidSearch):
		booking.BookingStage = statex.StageCollectingInfo
		st = st.Update(a.opts.now(), func(s *statex.TravelAgentState) {
			s.BookingInfo = booking
		})
		return a.reply(st, "I couldn't search with those details ("+strings.TrimPrefix(err.Error(), toolx.ErrInvalidSearch.Error()+": ")+"). Could you check the cities and date?")
	case err != nil:
		return a.fail(ctx, st, fmt.Errorf("flight search: %w", err), bookingApology)
	case len(found) == 0:
		booking.BookingStage = statex.StageCollectingInfo
		st = st.Update(a.opts.now(), func(s *statex.TravelAgentState) {
			s.BookingInfo = booking
		})
		return a.reply(st, fmt.Sprintf("I couldn't find flights from %s to %s on %s. Would you like to try another date?",
			booking.Origin, booking.Destination, booking.DepartureDate))
	}

	encoded, err := toolx.EncodeOptions(found)
	if err != nil {
		return a.fail(ctx, st, err, bookingApology)
	}

	booking.BookingStage = statex.StageShowingOptions
	st = st.Update(a.opts.now(), func(s *statex.TravelAgentState) {
		s.BookingInfo = booking
		s.AgentResponses[statex.ResponseKeyLastFlights] = encoded
	})

	header := fmt.Sprintf("Here are the available flights from %s to %s on %s (%s, %d traveler%s):",
		booking.Origin, booking.Destination, booking.DepartureDate, booking.CabinClass,
		booking.Travelers, plural(booking.Travelers))
	return a.reply(st, header+"\n\n"+formatOptions(found, booking.Travelers)+"\n\nReply with the option number to book it.")
}

func (a *BookingAgent) selectOption(
	st *statex.TravelAgentState,
	booking statex.TravelBooking,
	options []toolx.FlightOption,
	choice int,
) *statex.TravelAgentState {
	opt, ok := toolx.FindOption(options, choice)
	if !ok {
		return a.reply(st, fmt.Sprintf("Please choose an option between 1 and %d.\n\n%s",
			len(options), formatOptions(options, booking.Travelers)))
	}

	id := opt.ID
	total := math.Round(opt.Price*float64(booking.Travelers)*100) / 100

	booking.SelectedFlightID = &id
	booking.FlightNumber = opt.FlightNumber
	booking.Airline = opt.Airline
	booking.Price = &total
	booking.Currency = opt.Currency
	booking.BookingID = a.opts.newRef("BK")
	booking.BookingStage = statex.StageConfirmed
	booking.BookingStatus = statex.StatusConfirmed

	st = st.Update(a.opts.now(), func(s *statex.TravelAgentState) {
		s.BookingInfo = booking
		s.AgentResponses[statex.ResponseKeyLastFlights] = "[]"
	})
	return a.reply(st, bookingSummary(booking))
}

func bookingInput(st *statex.TravelAgentState, options []toolx.FlightOption, now time.Time) string {
	b := st.BookingInfo
	var sb strings.Builder
	fmt.Fprintf(&sb, "Today: %s\n", now.UTC().Format(dateLayout))
	fmt.Fprintf(&sb, "Booking stage: %s\n", b.BookingStage)
	fmt.Fprintf(&sb, "Known origin: %s\n", orDefault(b.Origin, "unknown"))
	fmt.Fprintf(&sb, "Known destination: %s\n", orDefault(b.Destination, "unknown"))
	fmt.Fprintf(&sb, "Known departure date: %s\n", orDefault(b.DepartureDate, "unknown"))
	fmt.Fprintf(&sb, "Travelers: %d\n", b.Travelers)
	fmt.Fprintf(&sb, "Flight options shown: %d\n", len(options))
	if prev := st.RecentMessages(4); len(prev) > 1 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range prev[:len(prev)-1] {
			fmt.Fprintf(&sb, "- %s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&sb, "Latest customer message: %s", st.CurrentQuery)
	return sb.String()
}

// mergeSlots copies extracted values into booking and reports whether a
// route field changed.
func mergeSlots(booking *statex.TravelBooking, out bookingExtraction) bool {
	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, *dst) {
			return
		}
		*dst = v
		changed = true
	}
	set(&booking.Origin, out.Origin)
	set(&booking.Destination, out.Destination)
	if d := strings.TrimSpace(out.DepartureDate); d != "" {
		if _, err := time.Parse(dateLayout, d); err == nil {
			set(&booking.DepartureDate, d)
		}
	}
	if d := strings.TrimSpace(out.ReturnDate); d != "" {
		if _, err := time.Parse(dateLayout, d); err == nil {
			booking.ReturnDate = d
		}
	}
	if out.Travelers > 0 && int(out.Travelers) != booking.Travelers {
		booking.Travelers = int(out.Travelers)
		changed = true
	}
	if c := normalizeCabin(out.CabinClass); c != "" && c != booking.CabinClass {
		booking.CabinClass = c
		changed = true
	}
	booking.Normalize()
	return changed
}

func normalizeCabin(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "economy", "coach":
		return "Economy"
	case "premium economy", "premium":
		return "Premium Economy"
	case "business":
		return "Business"
	case "first", "first class":
		return "First"
	default:
		return ""
	}
}

func missingSlots(b statex.TravelBooking) []string {
	var missing []string
	if strings.TrimSpace(b.Origin) == "" {
		missing = append(missing, "where you're flying from")
	}
	if strings.TrimSpace(b.Destination) == "" {
		missing = append(missing, "where you're flying to")
	}
	if strings.TrimSpace(b.DepartureDate) == "" {
		missing = append(missing, "your departure date (YYYY-MM-DD)")
	}
	return missing
}

func askForSlots(missing []string) string {
	switch len(missing) {
	case 1:
		return "I'd be happy to help you book a flight. Could you tell me " + missing[0] + "?"
	default:
		return "I'd be happy to help you book a flight. Could you tell me " +
			strings.Join(missing[:len(missing)-1], ", ") + " and " + missing[len(missing)-1] + "?"
	}
}

func formatOptions(options []toolx.FlightOption, travelers int) string {
	if travelers < 1 {
		travelers = 1
	}
	lines := make([]string, 0, len(options))
	for _, o := range options {
		stops := "non-stop"
		if o.Stops > 0 {
			stops = fmt.Sprintf("%d stop%s", o.Stops, plural(o.Stops))
		}
		lines = append(lines, fmt.Sprintf("%d. %s %s, departs %s, arrives %s, %dh%02dm, %s, %.2f %s per traveler (%.2f total)",
			o.ID, o.Airline, o.FlightNumber, o.DepartureTime, o.ArrivalTime,
			o.DurationMinutes/60, o.DurationMinutes%60, stops,
			o.Price, o.Currency, o.Price*float64(travelers)))
	}
	return strings.Join(lines, "\n")
}

func bookingSummary(b statex.TravelBooking) string {
	switch b.BookingStatus {
	case statex.StatusConfirmed:
		price := ""
		if b.Price != nil {
			price = fmt.Sprintf(" Total price: %.2f %s.", *b.Price, b.Currency)
		}
		return fmt.Sprintf("Your booking is confirmed. Reference %s: %s %s from %s to %s on %s, %s, %d traveler%s.%s",
			b.BookingID, b.Airline, b.FlightNumber, b.Origin, b.Destination, b.DepartureDate,
			b.CabinClass, b.Travelers, plural(b.Travelers), price)
	case statex.StatusCancelled:
		return "Your last booking was cancelled. Tell me where and when you'd like to fly to start a new one."
	default:
		return "Tell me where and when you'd like to fly and I'll find some options."
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
