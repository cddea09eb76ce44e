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
	informationPrefix = "Information Agent: "

	informationApology = "I apologise, but I'm having trouble retrieving that travel " +
		"information right now. Could you please rephrase your question " +
		"or ask about a specific destination?"

	contextSeparator = "\n\n---\n\n"
)

// QueryType is the information agent's classification of a question.
type QueryType string

const (
	QueryDestinationInfo QueryType = "destination_info"
	QueryRecommendations QueryType = "recommendations"
	QueryTravelTips      QueryType = "travel_tips"
	QueryRequirements    QueryType = "requirements"
	QueryWeatherSeasonal QueryType = "weather_seasonal"
	QueryGeneralTravel   QueryType = "general_travel"
)

func parseQueryType(v string) QueryType {
	switch t := QueryType(strings.ToLower(strings.TrimSpace(v))); t {
	case QueryDestinationInfo, QueryRecommendations, QueryTravelTips,
		QueryRequirements, QueryWeatherSeasonal, QueryGeneralTravel:
		return t
	default:
		return QueryGeneralTravel
	}
}

type informationAnalysis struct {
	QueryType   string   `json:"query_type"`
	Destination string   `json:"destination"`
	Timeframe   string   `json:"timeframe"`
	Interests   flexList `json:"interests"`
}

func (a informationAnalysis) interests(def string) string {
	if len(a.Interests) == 0 {
		return def
	}
	return strings.Join(a.Interests, ", ")
}

// answerRequest is what the respond call sees.
type answerRequest struct {
	Question    string
	Destination string
	AnswerType  string
	Timeframe   string
	Interests   string
	Budget      string
	Group       string
	Guidance    string
	Context     string
}

func (r answerRequest) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Customer request: %s\n", r.Question)
	fmt.Fprintf(&sb, "Destination: %s\n", r.Destination)
	fmt.Fprintf(&sb, "Answer type: %s\n", r.AnswerType)
	if r.Timeframe != "" {
		fmt.Fprintf(&sb, "Travel timeframe: %s\n", r.Timeframe)
	}
	if r.Interests != "" {
		fmt.Fprintf(&sb, "Interests: %s\n", r.Interests)
	}
	if r.Budget != "" {
		fmt.Fprintf(&sb, "Budget: %s\n", r.Budget)
	}
	if r.Group != "" {
		fmt.Fprintf(&sb, "Group: %s\n", r.Group)
	}
	if r.Guidance != "" {
		fmt.Fprintf(&sb, "Guidance: %s\n", r.Guidance)
	}
	sb.WriteString("--- Retrieved Knowledge ---\n")
	if r.Context == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(r.Context)
		sb.WriteString("\n")
	}
	sb.WriteString("--- End of Retrieved Knowledge ---")
	return sb.String()
}

// InformationAgent classifies a question, optionally retrieves reference
// material and answers with one of six strategies.
type InformationAgent struct {
	base
	analyze compose.Runnable[map[string]any, informationAnalysis]
	respond compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.Specialist = (*InformationAgent)(nil)

func NewInformationAgent(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	analyzePrompt string,
	respondPrompt string,
	opts ...Option,
) (*InformationAgent, error) {
	analyze, err := compileStructuredLLMGraph[informationAnalysis](ctx, chatModel, analyzePrompt, "information.analyze_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile information analyze graph: %v", contractx.ErrModelInvoke, err)
	}
	respond, err := compileTextGraph(ctx, chatModel, respondPrompt, "information.respond_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile information respond graph: %v", contractx.ErrModelInvoke, err)
	}
	return &InformationAgent{
		base:    base{agentType: contractx.AgentTypeInformation, opts: buildOptions(opts)},
		analyze: analyze,
		respond: respond,
	}, nil
}

func (a *InformationAgent) Handle(ctx context.Context, st *statex.TravelAgentState) *statex.TravelAgentState {
	analysis, err := invokeStructured(ctx, a.base, a.analyze, st.CurrentQuery)
	if err != nil {
		return a.fail(ctx, st, err, informationApology)
	}

	qt := parseQueryType(analysis.QueryType)
	log.Ctx(ctx).Debug().
		Str("query_type", string(qt)).
		Str("destination", analysis.Destination).
		Msg("information query classified")

	var message string
	switch qt {
	case QueryDestinationInfo:
		message, err = a.destinationInfo(ctx, st, analysis)
	case QueryRecommendations:
		message, err = a.recommendations(ctx, st, analysis)
	case QueryTravelTips:
		message, err = a.travelTips(ctx, st, analysis)
	case QueryRequirements:
		message, err = a.requirements(ctx, st, analysis)
	case QueryWeatherSeasonal:
		message, err = a.weather(ctx, st, analysis)
	default:
		message, err = a.generalTravel(ctx, st)
	}
	if err != nil {
		return a.fail(ctx, st, err, informationApology)
	}

	st = st.Update(a.opts.now(), func(s *statex.TravelAgentState) {
		s.QueryType = string(qt)
	})
	return a.reply(st, message)
}

func (a *InformationAgent) destinationInfo(ctx context.Context, st *statex.TravelAgentState, an informationAnalysis) (string, error) {
	dest := orDefault(an.Destination, "the location")
	answer, err := invokeText(ctx, a.base, a.respond, answerRequest{
		Question:    st.CurrentQuery,
		Destination: dest,
		AnswerType:  "destination information",
		Timeframe:   orDefault(an.Timeframe, "unspecified"),
		Interests:   an.interests("general tourism"),
		Context:     a.retrieveContext(ctx, "travel guide "+an.Destination+" attractions tips culture"),
	}.String())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sHere's what I know about %s:\n\n%s", informationPrefix, dest, answer), nil
}

func (a *InformationAgent) recommendations(ctx context.Context, st *statex.TravelAgentState, an informationAnalysis) (string, error) {
	dest := orDefault(an.Destination, "your destination")
	budget, group := travelerProfile(st.RecentMessages(5))
	answer, err := invokeText(ctx, a.base, a.respond, answerRequest{
		Question:    "What do you recommend in " + dest + "? " + st.CurrentQuery,
		Destination: dest,
		AnswerType:  "3-5 specific, personalised recommendations with brief explanations",
		Interests:   an.interests("general tourism"),
		Budget:      budget,
		Group:       group,
		Context:     a.retrieveContext(ctx, "recommendations activities restaurants things to do "+an.Destination),
	}.String())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sBased on your interests, here are my recommendations for %s:\n\n%s",
		informationPrefix, dest, answer), nil
}

func (a *InformationAgent) travelTips(ctx context.Context, st *statex.TravelAgentState, an informationAnalysis) (string, error) {
	dest := orDefault(an.Destination, "your destination")
	answer, err := invokeText(ctx, a.base, a.respond, answerRequest{
		Question:    st.CurrentQuery,
		Destination: dest,
		AnswerType:  "practical travel tips",
		Timeframe:   orDefault(an.Timeframe, "your trip"),
		Guidance: "cover airport transfers, local transport, money and currency, SIM cards and WiFi, " +
			"etiquette and customs, safety, emergency contacts and useful local phrases",
		Context: a.retrieveContext(ctx, "travel tips transportation money safety "+an.Destination),
	}.String())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sHere are some practical travel tips for %s:\n\n%s", informationPrefix, dest, answer), nil
}

func (a *InformationAgent) requirements(ctx context.Context, st *statex.TravelAgentState, an informationAnalysis) (string, error) {
	dest := orDefault(an.Destination, "your destination")
	docs := a.retrieveContext(ctx, "visa requirements entry documents health vaccinations "+an.Destination)
	if docs == "" {
		return fmt.Sprintf(requirementsFallback, informationPrefix, dest), nil
	}

	answer, err := invokeText(ctx, a.base, a.respond, answerRequest{
		Question:    st.CurrentQuery,
		Destination: dest,
		AnswerType:  "visa and entry requirements",
		Timeframe:   "your travel dates",
		Interests:   "entry requirements",
		Context:     docs,
	}.String())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sHere are the requirements for travelling to %s:\n\n%s", informationPrefix, dest, answer), nil
}

func (a *InformationAgent) weather(ctx context.Context, st *statex.TravelAgentState, an informationAnalysis) (string, error) {
	dest := orDefault(an.Destination, "your destination")
	docs := a.retrieveContext(ctx, "weather best time to visit seasons climate "+an.Destination)
	if docs == "" {
		return fmt.Sprintf(weatherFallback, informationPrefix, dest, dest), nil
	}

	answer, err := invokeText(ctx, a.base, a.respond, answerRequest{
		Question:    st.CurrentQuery,
		Destination: dest,
		AnswerType:  "weather and best time to visit",
		Timeframe:   orDefault(an.Timeframe, "unspecified"),
		Interests:   "seasonal weather",
		Context:     docs,
	}.String())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%sHere's the weather and seasonal information for %s:\n\n%s", informationPrefix, dest, answer), nil
}

func (a *InformationAgent) generalTravel(ctx context.Context, st *statex.TravelAgentState) (string, error) {
	docs := a.retrieveContext(ctx, st.CurrentQuery)
	if docs == "" {
		return informationPrefix + generalFallback, nil
	}

	answer, err := invokeText(ctx, a.base, a.respond, answerRequest{
		Question:    st.CurrentQuery,
		Destination: "various destinations",
		AnswerType:  "general travel",
		Timeframe:   "unspecified",
		Interests:   "general travel advice",
		Context:     docs,
	}.String())
	if err != nil {
		return "", err
	}
	return informationPrefix + answer, nil
}

// retrieveContext returns joined document contents, or "" when retrieval
// is unavailable or fails.
func (a *InformationAgent) retrieveContext(ctx context.Context, query string) string {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()

	docs, err := a.opts.retriever.Retrieve(callCtx, strings.TrimSpace(query), a.opts.topK)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("knowledge retrieval failed")
		return ""
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if c := strings.TrimSpace(d.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, contextSeparator)
}

var (
	luxuryWords = []string{"luxury", "expensive", "high-end"}
	budgetWords = []string{"budget", "cheap", "affordable"}
	familyWords = []string{"family", "kids", "children"}
	soloWords   = []string{"solo", "alone"}
)

// travelerProfile infers budget and group from recent messages. Later
// messages win.
func travelerProfile(msgs []statex.ConversationMessage) (budget, group string) {
	budget, group = "moderate", "general"
	for _, m := range msgs {
		text := strings.ToLower(m.Content)
		switch {
		case hasAny(text, luxuryWords):
			budget = "luxury"
		case hasAny(text, budgetWords):
			budget = "budget"
		}
		switch {
		case hasAny(text, familyWords):
			group = "family"
		case hasAny(text, soloWords):
			group = "solo"
		}
	}
	return budget, group
}

func hasAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

const requirementsFallback = `%sHere's requirements information for %s:

**Visa Requirements:**
- Check the latest visa requirements on your government's travel website
- Many countries offer visa on arrival or e-visas
- Processing time varies by nationality

**Health Requirements:**
- Check current entry health rules before you travel
- Vaccinations: consult CDC or WHO guidance for your destination
- Travel insurance is highly recommended

**Documentation:**
- Valid passport (usually 6 months beyond your travel dates)
- Return flight itinerary and hotel booking confirmation
- Proof of sufficient funds

For the most up-to-date information, check:
- Your country's foreign affairs website
- The destination country's embassy website
- IATA Travel Centre (iatatravelcentre.com)`

const weatherFallback = `%sHere's weather information for %s:

**General Weather Tips:**
- Weather patterns vary significantly by location and season
- Pack layers regardless of destination
- Check weather apps for real-time updates
- Consider seasonal events and festivals when planning

For specific forecasts and best visiting times, check:
- Local tourism board websites
- Travel forums for real traveller experiences

Would you like recommendations for the best time to visit %s based on your interests?`

const generalFallback = `I'd be happy to help with your travel questions! I can provide information about:

**Destinations:** Attractions, culture, practical tips, and recommendations
**Planning:** Visa requirements, best times to visit, transportation options
**Activities:** Tours, experiences, and local highlights
**Practical Advice:** Packing tips, safety information, and local customs

Could you please tell me:
- Which destination you're interested in?
- What type of information you need?
- When you're planning to travel?

This will help me give you the most relevant and useful information!`
